// Package prompts loads named prompt templates and renders them with
// placeholder substitution.
//
// Templates are plain text with double-brace placeholders such as
// {{userName}} or {{conversationSummary}}. Rendering is a literal
// replacement pass, not text/template: character prompts are authored by
// non-programmers and must never be able to execute template logic.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrTemplateMissing is returned when a named template cannot be found.
// Summarisation treats this as fatal rather than silently proceeding with an
// empty prompt.
var ErrTemplateMissing = errors.New("prompts: template missing")

// Source resolves template names to template text.
type Source interface {
	// Template returns the template body for name, or an error wrapping
	// [ErrTemplateMissing] when no such template exists.
	Template(name string) (string, error)
}

// DirSource loads templates from a directory, resolving the template name
// to <dir>/<lowercase(name)>.md. Reads go to disk on every call so template
// edits take effect without a restart.
type DirSource struct {
	Dir string
}

// Compile-time interface checks.
var (
	_ Source = (*DirSource)(nil)
	_ Source = (MapSource)(nil)
)

// Template implements [Source].
func (s *DirSource) Template(name string) (string, error) {
	path := filepath.Join(s.Dir, strings.ToLower(name)+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %q (looked for %s)", ErrTemplateMissing, name, path)
		}
		return "", fmt.Errorf("prompts: read %s: %w", path, err)
	}
	return string(data), nil
}

// MapSource serves templates from an in-memory map, keyed by lowercase name.
// Intended for tests.
type MapSource map[string]string

// Template implements [Source].
func (s MapSource) Template(name string) (string, error) {
	body, ok := s[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTemplateMissing, name)
	}
	return body, nil
}

// Render substitutes every {{key}} placeholder in template with its value
// from vars. Placeholders without a matching key are left intact, which
// makes a typoed placeholder visible in the output instead of vanishing.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
