package class

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File is the YAML document holding class definitions.
//
//	classes:
//	  - name: cross_domain_js
//	    grouping_key: domain
//	    attributes: [domain]
//	    template: |
//	      The application includes javascript from {{ .domain }} at:
//	      {{ range .urls }}- {{ . }}
//	      {{ end }}
type File struct {
	Classes []Class `yaml:"classes"`
}

// Load reads and parses a class file from the given path.
// If the path is a directory, it looks for classes.yaml or classes.yml in that directory.
func Load(path string) (*Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"classes.yaml", "classes.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no classes.yaml or classes.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read class file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Registry from YAML data.
func Parse(data []byte) (*Registry, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse class file: %w", err)
	}

	r, err := NewRegistry(file.Classes...)
	if err != nil {
		return nil, fmt.Errorf("invalid class file: %w", err)
	}
	return r, nil
}
