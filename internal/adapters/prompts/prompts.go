// Package prompts serves versioned prompt files from a directory laid out
// as <dir>/<id>/<version>.yaml.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/okian/revroute/internal/domain/operators"
)

// Sentinel kinds for prompt store errors. ErrPromptNotFound is the
// operators sentinel so callers of either package can match it.
var (
	ErrPromptNotFound = operators.ErrPromptNotFound
	ErrInvalidPrompt  = errors.New("invalid prompt")
)

type file struct {
	Template     string `yaml:"template"`
	InputSchema  string `yaml:"input_schema"`
	OutputSchema string `yaml:"output_schema"`
}

// Store implements operators.PromptStore. Parsed prompts are kept, since a
// published version never changes.
type Store struct {
	dir string

	mu     sync.RWMutex
	loaded map[string]operators.Prompt
}

var _ operators.PromptStore = (*Store)(nil)

// New serves prompts under dir.
func New(dir string) *Store {
	return &Store{dir: dir, loaded: make(map[string]operators.Prompt)}
}

// Get implements operators.PromptStore.
func (s *Store) Get(_ context.Context, id, version string) (operators.Prompt, error) {
	if err := checkName(id); err != nil {
		return operators.Prompt{}, err
	}
	if err := checkName(version); err != nil {
		return operators.Prompt{}, err
	}
	key := id + "@" + version
	s.mu.RLock()
	p, ok := s.loaded[key]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	path := filepath.Join(s.dir, id, version+".yaml")
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return operators.Prompt{}, fmt.Errorf("%w: %s", ErrPromptNotFound, key)
	}
	if err != nil {
		return operators.Prompt{}, fmt.Errorf("read prompt %s: %w", key, err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return operators.Prompt{}, fmt.Errorf("%w: %s: %v", ErrInvalidPrompt, key, err)
	}
	if strings.TrimSpace(f.Template) == "" {
		return operators.Prompt{}, fmt.Errorf("%w: %s: empty template", ErrInvalidPrompt, key)
	}
	p = operators.Prompt{
		ID:           id,
		Version:      version,
		Template:     f.Template,
		InputSchema:  f.InputSchema,
		OutputSchema: f.OutputSchema,
	}
	s.mu.Lock()
	s.loaded[key] = p
	s.mu.Unlock()
	return p, nil
}

// Versions lists the versions published for id, sorted.
func (s *Store) Versions(id string) ([]string, error) {
	if err := checkName(id); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, id, "*.yaml"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), ".yaml"))
	}
	return out, nil
}

func checkName(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: bad name %q", ErrInvalidPrompt, s)
	}
	return nil
}
