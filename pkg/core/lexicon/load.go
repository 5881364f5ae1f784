package lexicon

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	hjson "github.com/hjson/hjson-go/v4"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v2"
)

// Format is the serialization of a lexicon file.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatTOML  Format = "toml"
	FormatHJSON Format = "hjson" // plain JSON is valid HJSON
)

//go:embed default_zh.yaml
var defaultZH []byte

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
)

// Default returns the built-in Chinese statement lexicon.
func Default() *Lexicon {
	defaultOnce.Do(func() {
		lex, err := Parse(defaultZH, FormatYAML)
		if err != nil {
			panic(fmt.Sprintf("lexicon: embedded default is invalid: %v", err))
		}
		defaultLex = lex
	})
	return defaultLex
}

// FormatFromPath picks a format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json", ".hjson":
		return FormatHJSON, nil
	}
	return "", fmt.Errorf("unsupported lexicon file extension: %s", path)
}

// Parse decodes and validates lexicon data.
func Parse(data []byte, format Format) (*Lexicon, error) {
	var f File
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &f)
	case FormatTOML:
		err = toml.Unmarshal(data, &f)
	case FormatHJSON:
		err = hjson.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("unsupported lexicon format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s lexicon: %w", format, err)
	}
	return Build(f)
}

// LoadFile reads a lexicon file; the format follows the extension.
func LoadFile(path string) (*Lexicon, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon %s: %w", path, err)
	}
	lex, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lex, nil
}

// Marshal writes lex back out in the given format.
func Marshal(lex *Lexicon, format Format) ([]byte, error) {
	f := lex.File()
	switch format {
	case FormatYAML:
		return yaml.Marshal(f)
	case FormatTOML:
		return toml.Marshal(f)
	case FormatHJSON:
		return hjson.Marshal(f)
	}
	return nil, fmt.Errorf("unsupported lexicon format %q", format)
}
