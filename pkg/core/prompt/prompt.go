// Package prompt holds the instructions sent to language models. Prompts are
// JSON files, embedded by default and overridable from a directory, so the
// wording can change without a rebuild.
package prompt

import (
	"bytes"
	"fmt"
	"text/template"

	"fintable/pkg/core/utils"
)

// ColumnRolesID is the prompt used by the column-role arbiter.
const ColumnRolesID = "arbiter.column_roles"

// Template is one prompt file. The user part is a text/template rendered
// with Vars; the system part is sent verbatim.
type Template struct {
	ID        string  `json:"id"` // defaults to the path, e.g. "arbiter.column_roles"
	Category  string  `json:"category"`
	Title     string  `json:"name"`
	Purpose   string  `json:"description"`
	System    string  `json:"system_prompt"`
	User      string  `json:"user_prompt_template"`
	SchemaRef string  `json:"response_schema_ref"`
	Inputs    []Input `json:"variables"`
	Version   string  `json:"version"`

	user *template.Template
}

// Input declares one template variable.
type Input struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     string `json:"default"`
}

// Vars are the values a template renders with.
type Vars map[string]interface{}

func (t *Template) compile() error {
	tmpl, err := template.New(t.ID).Parse(t.User)
	if err != nil {
		return fmt.Errorf("template %s: %w", t.ID, err)
	}
	t.user = tmpl
	return nil
}

// Render fills the user template. Optional inputs missing from vars take
// their declared default; a missing required input is an error.
func (t *Template) Render(vars Vars) (string, error) {
	if t.User == "" {
		return "", nil
	}
	if t.user == nil {
		if err := t.compile(); err != nil {
			return "", err
		}
	}
	data := make(Vars, len(vars)+len(t.Inputs))
	for k, v := range vars {
		data[k] = v
	}
	for _, in := range t.Inputs {
		if _, ok := data[in.Name]; ok {
			continue
		}
		if in.Required {
			return "", fmt.Errorf("prompt %s: missing required variable %s", t.ID, in.Name)
		}
		data[in.Name] = in.Default
	}

	var buf bytes.Buffer
	if err := t.user.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt %s: %w", t.ID, err)
	}
	return buf.String(), nil
}

// Schema is a response schema, compiled when it is registered.
type Schema struct {
	ID     string
	Source string
	*utils.Schema
}
