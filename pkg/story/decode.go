package story

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned by Decode for unknown file extensions.
var ErrUnsupportedFormat = errors.New("story: unsupported file format")

// DecodeJSON reads a story from JSON, rejecting unknown fields.
func DecodeJSON(r io.Reader) (*Story, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	var s Story
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode story json: %w", err)
	}
	return &s, nil
}

// DecodeYAML reads a story from YAML, rejecting unknown fields.
func DecodeYAML(r io.Reader) (*Story, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var s Story
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode story yaml: %w", err)
	}
	return &s, nil
}

// Decode picks a decoder from the file name's extension.
func Decode(filename string, r io.Reader) (*Story, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return DecodeJSON(r)
	case ".yaml", ".yml":
		return DecodeYAML(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

// IsStoryFile reports whether Decode understands the file name.
func IsStoryFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
