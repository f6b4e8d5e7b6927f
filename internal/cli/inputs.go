package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apresai/conceptlab/internal/model"
	"github.com/apresai/conceptlab/internal/pipeline"
	"gopkg.in/yaml.v3"
)

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, v)
	} else {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// LoadConcept reads a concept from a JSON or YAML file. A missing ID is
// derived from the name.
func LoadConcept(path string) (model.Concept, error) {
	var c model.Concept
	if err := decodeFile(path, &c); err != nil {
		return c, err
	}
	if strings.TrimSpace(c.Name) == "" {
		return c, fmt.Errorf("concept %s: name is required", path)
	}
	if c.ID == "" {
		c.ID = slug(c)
	}
	return c, nil
}

// LoadPersonas reads either a single persona or a list of them.
func LoadPersonas(path string) ([]model.Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var personas []model.Persona
	if isYAML(path) {
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			err = node.Decode(&personas)
		} else {
			var p model.Persona
			err = node.Decode(&p)
			personas = []model.Persona{p}
		}
	} else if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(data, &personas)
	} else {
		var p model.Persona
		err = json.Unmarshal(data, &p)
		personas = []model.Persona{p}
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if len(personas) == 0 {
		return nil, fmt.Errorf("%s holds no personas", path)
	}
	var errs []error
	seen := make(map[string]bool, len(personas))
	for i := range personas {
		p := &personas[i]
		if p.ID == "" {
			p.ID = fmt.Sprintf("persona-%d", i+1)
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate persona id %q", p.ID))
		}
		seen[p.ID] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return personas, nil
}

// Results is the document written by the evaluate command.
type Results struct {
	Concept     model.Concept                     `json:"concept"`
	Evaluations []*model.ConversationalEvaluation `json:"evaluations"`
	Failures    []FailedPersona                   `json:"failures,omitempty"`
}

type FailedPersona struct {
	PersonaID string `json:"personaId"`
	Error     string `json:"error"`
}

// WriteResults saves the batch as indented JSON, creating parent directories.
func WriteResults(path string, c model.Concept, res *pipeline.BatchResult) error {
	doc := Results{Concept: c, Evaluations: res.Evaluations}
	if doc.Evaluations == nil {
		doc.Evaluations = []*model.ConversationalEvaluation{}
	}
	for _, f := range res.Failures {
		doc.Failures = append(doc.Failures, FailedPersona{PersonaID: f.PersonaID, Error: f.Err.Error()})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write results to %s: %w", path, err)
	}
	return nil
}
