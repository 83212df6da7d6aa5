package catalog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/notesync/internal/model"
)

// Format is a catalog document encoding.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the encoding from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: unsupported catalog file extension %q", ErrInvalidCatalog, filepath.Ext(path))
	}
}

type document struct {
	Version      string          `yaml:"version" toml:"version"`
	Prompts      promptsDoc      `yaml:"prompts" toml:"prompts"`
	Requirements requirementsDoc `yaml:"requirements" toml:"requirements"`
	Triggers     []triggerDoc    `yaml:"intervention_triggers" toml:"intervention_triggers"`
}

type promptsDoc struct {
	Initial      string `yaml:"initial" toml:"initial"`
	Verification string `yaml:"verification" toml:"verification"`
}

type requirementsDoc struct {
	Critical []requirementDoc `yaml:"critical,omitempty" toml:"critical,omitempty"`
	High     []requirementDoc `yaml:"high,omitempty" toml:"high,omitempty"`
	Medium   []requirementDoc `yaml:"medium,omitempty" toml:"medium,omitempty"`
	Low      []requirementDoc `yaml:"low,omitempty" toml:"low,omitempty"`
}

type requirementDoc struct {
	ID           string       `yaml:"id" toml:"id"`
	Name         string       `yaml:"name" toml:"name"`
	Description  string       `yaml:"description,omitempty" toml:"description,omitempty"`
	ErrorMessage string       `yaml:"error_message" toml:"error_message"`
	Check        predicateDoc `yaml:"check" toml:"check"`
}

type predicateDoc struct {
	Kind          string `yaml:"kind" toml:"kind"`
	Value         string `yaml:"value,omitempty" toml:"value,omitempty"`
	Length        int    `yaml:"length,omitempty" toml:"length,omitempty"`
	CaseSensitive bool   `yaml:"case_sensitive,omitempty" toml:"case_sensitive,omitempty"`
}

type triggerDoc struct {
	ID          string  `yaml:"id" toml:"id"`
	Description string  `yaml:"description" toml:"description"`
	Kind        string  `yaml:"kind" toml:"kind"`
	Threshold   float64 `yaml:"threshold,omitempty" toml:"threshold,omitempty"`
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (*Snapshot, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // catalog path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	return Parse(data, format)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte, format Format) (*Snapshot, error) {
	var doc document
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidCatalog, format)
	}

	return fromDocument(doc)
}

func fromDocument(doc document) (*Snapshot, error) {
	groups := []struct {
		docs     []requirementDoc
		priority model.Priority
	}{
		{doc.Requirements.Critical, model.PriorityCritical},
		{doc.Requirements.High, model.PriorityHigh},
		{doc.Requirements.Medium, model.PriorityMedium},
		{doc.Requirements.Low, model.PriorityLow},
	}

	var reqs []Requirement
	for _, group := range groups {
		for _, rd := range group.docs {
			reqs = append(reqs, Requirement{
				ID:           rd.ID,
				Name:         rd.Name,
				Priority:     group.priority,
				Description:  rd.Description,
				ErrorMessage: rd.ErrorMessage,
				Predicate: Predicate{
					Kind:          PredicateKind(rd.Check.Kind),
					Value:         rd.Check.Value,
					Length:        rd.Check.Length,
					CaseSensitive: rd.Check.CaseSensitive,
				},
			})
		}
	}

	trigs := make([]InterventionTrigger, 0, len(doc.Triggers))
	for _, td := range doc.Triggers {
		trigs = append(trigs, InterventionTrigger{
			ID:          td.ID,
			Description: td.Description,
			Kind:        TriggerKind(td.Kind),
			Threshold:   td.Threshold,
		})
	}

	return New(doc.Version, Prompts{
		Initial:      doc.Prompts.Initial,
		Verification: doc.Prompts.Verification,
	}, reqs, trigs)
}

// Encode serializes a snapshot back into a catalog document.
func Encode(s *Snapshot, format Format) ([]byte, error) {
	doc := document{
		Version: s.version,
		Prompts: promptsDoc{
			Initial:      s.prompts.Initial,
			Verification: s.prompts.Verification,
		},
	}

	for _, req := range s.requirements {
		rd := requirementDoc{
			ID:           req.ID,
			Name:         req.Name,
			Description:  req.Description,
			ErrorMessage: req.ErrorMessage,
			Check: predicateDoc{
				Kind:          string(req.Predicate.Kind),
				Value:         req.Predicate.Value,
				Length:        req.Predicate.Length,
				CaseSensitive: req.Predicate.CaseSensitive,
			},
		}
		switch req.Priority {
		case model.PriorityCritical:
			doc.Requirements.Critical = append(doc.Requirements.Critical, rd)
		case model.PriorityHigh:
			doc.Requirements.High = append(doc.Requirements.High, rd)
		case model.PriorityMedium:
			doc.Requirements.Medium = append(doc.Requirements.Medium, rd)
		case model.PriorityLow:
			doc.Requirements.Low = append(doc.Requirements.Low, rd)
		}
	}

	for _, trig := range s.triggers {
		doc.Triggers = append(doc.Triggers, triggerDoc{
			ID:          trig.ID,
			Description: trig.Description,
			Kind:        string(trig.Kind),
			Threshold:   trig.Threshold,
		})
	}

	switch format {
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatTOML:
		return toml.Marshal(doc)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidCatalog, format)
	}
}
