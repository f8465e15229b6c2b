package files

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type importantFilesDoc struct {
	Files []string `yaml:"files"`
}

func parseImportantFiles(data []byte) ([]string, error) {
	var doc importantFilesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse important files manifest: %w", err)
	}

	paths := make([]string, 0, len(doc.Files))
	for _, p := range doc.Files {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
