package reconcile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"

	"fintable/pkg/models"
)

const maxConsoleAttempts = 3

// consoleLine is one line of operator input, stamped with the prompt that was
// open when it arrived (0 when none was).
type consoleLine struct {
	text   string
	prompt uint64
}

// ConsoleProvider shows a conflict on a terminal and reads the answer.
// Calls to Decide must not overlap.
type ConsoleProvider struct {
	in  io.Reader
	out io.Writer

	once    sync.Once
	reqs    chan struct{}
	lines   chan consoleLine
	eof     chan struct{}
	pending bool
	prompts uint64
	open    atomic.Uint64

	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	warning lipgloss.Style
}

// NewConsoleProvider reads answers from in and writes prompts to out.
func NewConsoleProvider(in io.Reader, out io.Writer) *ConsoleProvider {
	r := lipgloss.NewRenderer(out)
	return &ConsoleProvider{
		in:      in,
		out:     out,
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		label:   r.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Width(12),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#6C7086")),
		warning: r.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
	}
}

// readLines scans one line per request so Decide can honour ctx without the
// reader running ahead of the prompts.
func (p *ConsoleProvider) readLines() {
	p.reqs = make(chan struct{})
	p.lines = make(chan consoleLine, 1)
	p.eof = make(chan struct{})
	go func() {
		defer close(p.eof)
		sc := bufio.NewScanner(p.in)
		for range p.reqs {
			if !sc.Scan() {
				return
			}
			p.lines <- consoleLine{text: sc.Text(), prompt: p.open.Load()}
		}
	}()
}

// next returns the next line typed while prompt was open. Lines that arrived
// after an earlier prompt gave up are dropped.
func (p *ConsoleProvider) next(ctx context.Context, prompt uint64) (string, error) {
	for {
		if !p.pending {
			select {
			case p.reqs <- struct{}{}:
				p.pending = true
			case <-p.eof:
				return "", fmt.Errorf("%w: input closed", ErrNoDecision)
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrNoDecision, ctx.Err())
			}
		}
		select {
		case l := <-p.lines:
			p.pending = false
			if l.prompt != prompt {
				continue
			}
			return l.text, nil
		case <-p.eof:
			return "", fmt.Errorf("%w: input closed", ErrNoDecision)
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrNoDecision, ctx.Err())
		}
	}
}

func (p *ConsoleProvider) Decide(ctx context.Context, c Conflict) (Choice, error) {
	p.prompts++
	prompt := p.prompts
	p.open.Store(prompt)
	defer p.open.Store(0)
	p.once.Do(p.readLines)

	fmt.Fprintln(p.out, p.Render(c))
	for attempt := 0; attempt < maxConsoleAttempts; attempt++ {
		fmt.Fprint(p.out, "Use [1] heuristic  [2] model  [3] skip: ")
		line, err := p.next(ctx, prompt)
		if err != nil {
			fmt.Fprintln(p.out)
			return "", err
		}
		switch strings.TrimSpace(line) {
		case "1", "h", "heuristic":
			return ChoiceHeuristic, nil
		case "2", "m", "model":
			return ChoiceModel, nil
		case "3", "s", "skip":
			return ChoiceSkip, nil
		}
		fmt.Fprintln(p.out, p.warning.Render("please answer 1, 2 or 3"))
	}
	return "", fmt.Errorf("%w: no valid answer", ErrNoDecision)
}

// Render formats a conflict for display.
func (p *ConsoleProvider) Render(c Conflict) string {
	var b strings.Builder
	b.WriteString(p.title.Render(fmt.Sprintf("Column mapping conflict  page %d line %d  (%s)",
		c.Row.Page, c.Row.Line, c.Kind)))
	b.WriteString("\n")
	for i, cell := range c.Row.Texts() {
		fmt.Fprintf(&b, "  %s %q\n", p.muted.Render(fmt.Sprintf("[%d]", i)), cell)
	}
	b.WriteString("\n")
	b.WriteString(p.label.Render("heuristic") + p.mapping(c.Heuristic) +
		p.muted.Render(fmt.Sprintf("  confidence %.2f", c.Heuristic.Confidence)) + "\n")
	b.WriteString(p.label.Render("model") + p.mapping(c.Model) +
		p.muted.Render(fmt.Sprintf("  confidence %.2f", c.ModelConfidence)) + "\n")
	if c.ModelRationale != "" {
		b.WriteString(p.muted.Render("  " + c.ModelRationale))
		b.WriteString("\n")
	}
	for _, d := range c.Differences {
		b.WriteString(p.warning.Render("  - " + d.String()))
		b.WriteString("\n")
	}
	return b.String()
}

func (p *ConsoleProvider) mapping(s models.RowSchema) string {
	if s.Empty() {
		return "(none)"
	}
	return s.String()
}
