// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the settings file looked up in the working directory.
const DefaultFile = "vercheck.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid settings")

var validate = validator.New()

// Load reads the settings at path over DefaultSettings and resolves
// relative paths against the file's directory. Unknown keys are errors.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Settings{}, err
	}
	s.resolve(base)
	return s, nil
}

// Parse decodes settings without resolving paths.
func Parse(r io.Reader) (Settings, error) {
	s := DefaultSettings()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// Save writes s to path, creating the directory.
func Save(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Init writes a settings file for project unless one exists. It reports
// whether a file was created.
func Init(path, project, oldVersion, newVersion string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	s := DefaultSettings()
	s.Project = project
	s.OldVersion = oldVersion
	s.NewVersion = newVersion
	if err := Save(path, s); err != nil {
		return false, err
	}
	return true, nil
}

// Validate checks field constraints and returns non-fatal warnings.
//
// Description:
//
//	Struct tags are checked by go-playground/validator. User metric
//	names must not repeat. When both versions are semantic versions the
//	new one should be newer; otherwise a warning is returned.
//
// Outputs:
//
//	[]string - Warnings.
//	error - Wraps ErrInvalid, listing each failing field.
func Validate(s Settings) ([]string, error) {
	var problems []string
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}
	seen := make(map[string]bool, len(s.Metrics))
	for _, m := range s.Metrics {
		if m.Name != "" && seen[m.Name] {
			problems = append(problems, fmt.Sprintf("metrics: %q defined twice", m.Name))
		}
		seen[m.Name] = true
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return VersionWarnings(s.OldVersion, s.NewVersion), nil
}

// VersionWarnings compares versions when both parse as semver. A missing
// "v" prefix is tolerated.
func VersionWarnings(oldVersion, newVersion string) []string {
	o, n := canonical(oldVersion), canonical(newVersion)
	if !semver.IsValid(o) || !semver.IsValid(n) {
		return []string{fmt.Sprintf("versions %q and %q are not semantic versions; ordering not checked", oldVersion, newVersion)}
	}
	switch semver.Compare(n, o) {
	case 0:
		return []string{fmt.Sprintf("new_version %s equals old_version", newVersion)}
	case -1:
		return []string{fmt.Sprintf("new_version %s is older than old_version %s", newVersion, oldVersion)}
	}
	return nil
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Settings.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_unless":
		return field + " is required unless " + fe.Param()
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param())
	}
}
