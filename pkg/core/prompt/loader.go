package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
)

//go:embed assets
var embedded embed.FS

// Default returns a registry loaded from the embedded assets.
func Default() (*Registry, error) {
	sub, err := fs.Sub(embedded, "assets")
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	if err := LoadFS(r, sub); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFromDirectory loads dir/prompts/<category>/<name>.json and
// dir/schemas/<id>.json into r, replacing entries with the same ID.
func LoadFromDirectory(r *Registry, dir string) error {
	return LoadFS(r, os.DirFS(dir))
}

// LoadFS loads prompts/ (required) and schemas/ (optional) from fsys.
func LoadFS(r *Registry, fsys fs.FS) error {
	if _, err := fs.Stat(fsys, "prompts"); err != nil {
		return fmt.Errorf("prompts directory not found")
	}
	err := eachJSON(fsys, "prompts", func(p string, data []byte) error {
		var t Template
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		rel := strings.TrimSuffix(strings.TrimPrefix(p, "prompts/"), ".json")
		if t.ID == "" {
			t.ID = strings.ReplaceAll(rel, "/", ".")
		}
		if t.Category == "" {
			t.Category = "default"
			if dir, _, ok := strings.Cut(rel, "/"); ok {
				t.Category = dir
			}
		}
		return r.Add(&t)
	})
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	if _, err := fs.Stat(fsys, "schemas"); err == nil {
		err = eachJSON(fsys, "schemas", func(p string, data []byte) error {
			return r.AddSchema(strings.TrimSuffix(path.Base(p), ".json"), string(data))
		})
		if err != nil {
			return fmt.Errorf("load schemas: %w", err)
		}
	}
	slog.Debug("prompt.loaded", "component", "prompt", "prompts", len(r.IDs()))
	return nil
}

func eachJSON(fsys fs.FS, dir string, fn func(p string, data []byte) error) error {
	return fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".json" {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		return fn(p, data)
	})
}
