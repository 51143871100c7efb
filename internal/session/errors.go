package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotStaged is returned when a flow needs the file pair but Stage has not run.
var ErrNotStaged = errors.New("no file pair staged")

// ErrNoIdeas is returned when the extracted reply holds no test ideas.
var ErrNoIdeas = errors.New("assistant suggested no tests")

// TestIdea is one proposed unit test.
type TestIdea struct {
	Name        string `json:"test-name" yaml:"name"`
	Description string `json:"test-description" yaml:"description"`
}

// GeneratedTest is the code produced for one selected idea.
type GeneratedTest struct {
	Name  string `yaml:"name"`
	Code  string `yaml:"code,omitempty"`
	Error string `yaml:"error,omitempty"`
}

type ideasEnvelope struct {
	Tests []TestIdea `json:"tests"`
}

// ParseIdeas decodes a {"tests": [...]} document. Entries without a name are dropped.
func ParseIdeas(text string) ([]TestIdea, error) {
	var env ideasEnvelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &env); err != nil {
		return nil, fmt.Errorf("decode test ideas: %w", err)
	}

	ideas := make([]TestIdea, 0, len(env.Tests))
	for _, idea := range env.Tests {
		idea.Name = strings.TrimSpace(idea.Name)
		if idea.Name == "" {
			continue
		}
		ideas = append(ideas, idea)
	}
	if len(ideas) == 0 {
		return nil, ErrNoIdeas
	}
	return ideas, nil
}
