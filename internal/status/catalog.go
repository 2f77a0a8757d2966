package status

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/pixil98/go-guildrpg/internal/display"
)

const catalogSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["kind"],
    "additionalProperties": false,
    "properties": {
      "kind": {"type": "string", "pattern": "^[a-z0-9_]+$"},
      "name_i18n": {
        "type": "object",
        "additionalProperties": {"type": "string"}
      },
      "default_duration": {"type": "number", "exclusiveMinimum": 0},
      "periodic": {"type": "boolean"},
      "vars": {"type": "object"}
    }
  }
}`

var compiledCatalogSchema = jsonschema.MustCompileString("status_catalog.json", catalogSchema)

// Template holds the defaults for one status kind.
type Template struct {
	Kind            string            `json:"kind"`
	NameI18n        map[string]string `json:"name_i18n"`
	DefaultDuration *float64          `json:"default_duration"`
	Periodic        bool              `json:"periodic"`
	Vars            map[string]any    `json:"vars"`
}

// Name returns the template's name in the closest available language,
// falling back to the kind.
func (t Template) Name(lang string) string {
	return display.Localize(t.NameI18n, lang, t.Kind)
}

// Catalog is a read-only set of templates keyed by kind.
type Catalog struct {
	templates map[string]Template
}

// NewCatalog builds a catalog from already decoded templates.
func NewCatalog(templates ...Template) *Catalog {
	c := &Catalog{templates: map[string]Template{}}
	for _, t := range templates {
		c.templates[t.Kind] = t
	}
	return c
}

// LoadCatalogFile reads a YAML template catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening status catalog: %w", err)
	}
	defer func() { _ = f.Close() }()

	return LoadCatalog(f)
}

// LoadCatalog decodes a YAML list of templates and validates it before use.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var raw any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return NewCatalog(), nil
		}
		return nil, fmt.Errorf("decoding status catalog: %w", err)
	}

	// Round trip through JSON so the validator and decoder see JSON types.
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting status catalog: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("converting status catalog: %w", err)
	}
	if err := compiledCatalogSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validating status catalog: %w", err)
	}

	var templates []Template
	if err := json.Unmarshal(b, &templates); err != nil {
		return nil, fmt.Errorf("decoding status catalog: %w", err)
	}

	c := NewCatalog()
	for _, t := range templates {
		if _, dup := c.templates[t.Kind]; dup {
			return nil, fmt.Errorf("status catalog: duplicate kind %q", t.Kind)
		}
		c.templates[t.Kind] = t
	}
	return c, nil
}

// Template looks up the template for kind.
func (c *Catalog) Template(kind string) (Template, bool) {
	if c == nil {
		return Template{}, false
	}
	t, ok := c.templates[kind]
	return t, ok
}

// Kinds returns every kind in the catalog, sorted.
func (c *Catalog) Kinds() []string {
	if c == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(c.templates))
}
