package reference

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource reads the catalogue from a YAML file.
type FileSource struct {
	Path string
}

func (s FileSource) Load(_ context.Context) (*Catalogue, error) {
	contents, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue %s: %w", s.Path, err)
	}
	return ParseYAML(contents)
}

// ParseYAML decodes a catalogue document, rejecting unknown keys.
func ParseYAML(contents []byte) (*Catalogue, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	var c Catalogue
	if err := decoder.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	return &c, nil
}
