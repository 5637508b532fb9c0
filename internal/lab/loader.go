package lab

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed all:testdata
var embeddedLabs embed.FS

// Candidate document names inside a lab directory, in lookup order.
var labFiles = []string{"lab.yaml", "lab.yml", "lab.json"}

// TemplateFile is the optional per-lab grading template.
const TemplateFile = "template.md"

// Load loads a lab by name, searching first in the external directory
// (if provided), then in the embedded labs.
func Load(name string, externalDir string) (*Lab, error) {
	if externalDir != "" {
		dir := filepath.Join(externalDir, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return loadFromFS(os.DirFS(dir), name)
		}
	}

	// embed.FS always uses forward slashes.
	subFS, err := fs.Sub(embeddedLabs, path.Join("testdata", name))
	if err != nil {
		return nil, &NotFoundError{Name: name, Err: err}
	}
	if _, err := fs.Stat(subFS, "."); err != nil {
		return nil, &NotFoundError{Name: name, Err: err}
	}
	return loadFromFS(subFS, name)
}

// List returns the names of all available labs, embedded first.
func List(externalDir string) ([]string, error) {
	seen := make(map[string]bool)
	var names []string

	entries, err := fs.ReadDir(embeddedLabs, "testdata")
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = true
				names = append(names, e.Name())
			}
		}
	}

	if externalDir != "" {
		entries, err := os.ReadDir(externalDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read labs directory: %w", err)
		}
		var external []string
		for _, e := range entries {
			if e.IsDir() && !seen[e.Name()] {
				external = append(external, e.Name())
			}
		}
		sort.Strings(external)
		names = append(names, external...)
	}

	return names, nil
}

// LoadFile decodes a single lab document from disk.
func LoadFile(file string) (*Lab, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read lab file: %w", err)
	}
	l, err := decodeLab(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	if l.Name == "" {
		l.Name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}
	return l, nil
}

func loadFromFS(fsys fs.FS, name string) (*Lab, error) {
	var (
		data    []byte
		docName string
		err     error
	)
	for _, candidate := range labFiles {
		data, err = fs.ReadFile(fsys, candidate)
		if err == nil {
			docName = candidate
			break
		}
	}
	if docName == "" {
		return nil, fmt.Errorf("failed to read lab document for %q (tried %s): %w",
			name, strings.Join(labFiles, ", "), err)
	}

	l, err := decodeLab(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s for lab %q: %w", docName, name, err)
	}
	if l.Name == "" {
		l.Name = name
	}

	tmpl, err := fs.ReadFile(fsys, TemplateFile)
	switch {
	case err == nil:
		l.Template = string(tmpl)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s for lab %q: %w", TemplateFile, name, err)
	}

	return l, nil
}

func decodeLab(data []byte) (*Lab, error) {
	var l Lab
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	if l.Steps == nil {
		l.Steps = []Step{}
	}
	return &l, nil
}
