// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import "fmt"

// Source types of configured metrics.
const (
	SourceRegex   = "regex"
	SourceKeyword = "keyword"
	SourceDerived = "derived"
)

// Spec is the configuration form of a user metric, as read from the
// settings file.
type Spec struct {
	Name        string    `yaml:"name" json:"name" validate:"required"`
	Label       string    `yaml:"label,omitempty" json:"label,omitempty"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Source      string    `yaml:"source" json:"source" validate:"required,oneof=regex keyword derived"`
	Direction   Direction `yaml:"direction" json:"direction"`
	Threshold   *float64  `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Default     float64   `yaml:"default,omitempty" json:"default,omitempty"`

	// Pattern is used by regex metrics.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// Keywords are used by keyword metrics.
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`

	// Formula is used by derived metrics.
	Formula string `yaml:"formula,omitempty" json:"formula,omitempty"`
}

// Definition converts the spec into a registrable definition.
func (s Spec) Definition() (Definition, error) {
	def := Definition{
		Name:        s.Name,
		Label:       s.Label,
		Description: s.Description,
		Direction:   s.Direction,
		Threshold:   s.Threshold,
		Default:     s.Default,
	}

	switch s.Source {
	case SourceRegex:
		extract, err := RegexExtractor(s.Pattern)
		if err != nil {
			return def, fmt.Errorf("metric %s: %w", s.Name, err)
		}
		def.Extract = extract

	case SourceKeyword:
		counter, err := NewKeywordCounter(s.Keywords)
		if err != nil {
			return def, fmt.Errorf("metric %s: %w", s.Name, err)
		}
		def.Extract = counter.Extractor()

	case SourceDerived:
		def.Kind = Derived
		def.Formula = s.Formula

	default:
		return def, fmt.Errorf("%w: metric %s has unknown source %q", ErrInvalidDefinition, s.Name, s.Source)
	}
	return def, nil
}

// RegisterSpecs converts and registers specs in order.
func RegisterSpecs(r *Registry, specs []Spec) error {
	for _, s := range specs {
		def, err := s.Definition()
		if err != nil {
			return err
		}
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
