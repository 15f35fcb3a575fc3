// Package specstore loads developer-authored segment specifications from
// YAML files. A loaded list is an immutable snapshot: finalize copies it
// into the session record so later edits never rewrite history.
package specstore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"playtest-telemetry-service/internal/models"
)

// File is the on-disk shape of a project spec file.
type File struct {
	Project  string               `yaml:"project"`
	GameName string               `yaml:"game_name"`
	Segments []models.SegmentSpec `yaml:"segments"`
}

// Load reads and validates a spec file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates spec file contents. Every segment must pass
// validation and names must be unique; a bad spec is rejected before any
// session can be scored against it.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse spec file: %w", err)
	}
	if f.Project == "" {
		return nil, &models.ValidationError{Field: "project", Msg: "must not be empty"}
	}
	if len(f.Segments) == 0 {
		return nil, &models.ValidationError{Field: "segments", Msg: "must not be empty"}
	}
	seen := make(map[string]struct{}, len(f.Segments))
	for i := range f.Segments {
		if err := f.Segments[i].Validate(); err != nil {
			return nil, fmt.Errorf("segments[%d]: %w", i, err)
		}
		if _, dup := seen[f.Segments[i].Name]; dup {
			return nil, &models.ValidationError{
				Field: fmt.Sprintf("segments[%d].name", i),
				Msg:   fmt.Sprintf("duplicate segment %q", f.Segments[i].Name),
			}
		}
		seen[f.Segments[i].Name] = struct{}{}
	}
	return &f, nil
}
