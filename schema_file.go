package douki

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// schemaFile is the on-disk layout of a schema file.
type schemaFile struct {
	Archetypes []SchemaDef `yaml:"archetypes" toml:"archetypes"`
}

// LoadSchemaFile reads archetype definitions from a YAML (.yaml, .yml) or
// TOML (.toml) file.
func LoadSchemaFile(path string) ([]SchemaDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file %s: %w", path, err)
	}
	defs, err := ParseSchema(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	if err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return defs, nil
}

// ParseSchema decodes archetype definitions in the given format, "yaml" or
// "toml".
func ParseSchema(data []byte, format string) ([]SchemaDef, error) {
	var doc schemaFile
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported schema format %q", format)
	}
	if len(doc.Archetypes) == 0 {
		return nil, fmt.Errorf("no archetypes defined: %w", ErrUnknownArchetype)
	}
	return doc.Archetypes, nil
}
