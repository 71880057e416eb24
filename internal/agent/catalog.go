package agent

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"agentrouter/internal/llm"
)

// Catalog is the on-disk list of agents.
//
//	agents:
//	  - id: researcher
//	    kind: llm
//	    capabilities: [research]
//	    system_prompt: ...
type Catalog struct {
	Agents []Definition `yaml:"agents" toml:"agents"`
}

func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(raw, filepath.Ext(path))
}

// ParseCatalog decodes a catalog. ext selects the format: ".toml" decodes
// TOML, anything else YAML.
func ParseCatalog(raw []byte, ext string) (Catalog, error) {
	var cat Catalog
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(raw), &cat); err != nil {
			return Catalog{}, fmt.Errorf("decode toml catalog: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cat); err != nil {
			return Catalog{}, fmt.Errorf("decode yaml catalog: %w", err)
		}
	}
	if err := cat.Validate(); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.Agents))
	for i, d := range c.Agents {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return fmt.Errorf("catalog agent #%d: empty id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("catalog agent %s: duplicate id", id)
		}
		seen[id] = struct{}{}
		switch d.Kind {
		case KindEcho, KindCalculator:
		case KindLLM, "":
			if len(normalizeCapabilities(d.Capabilities)) == 0 {
				return fmt.Errorf("catalog agent %s: llm agents need at least one capability", id)
			}
		default:
			return fmt.Errorf("catalog agent %s: unknown kind %q", id, d.Kind)
		}
	}
	return nil
}

// Build creates every agent in the catalog. completer may be nil when the
// catalog holds no LLM agents.
func (c Catalog) Build(completer llm.Completer) ([]Agent, error) {
	out := make([]Agent, 0, len(c.Agents))
	for _, d := range c.Agents {
		a, err := d.Build(completer)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// DefaultCatalog holds the built-in agents, plus the LLM specialists when
// withSpecialists is set.
func DefaultCatalog(withSpecialists bool) Catalog {
	defs := Builtins()
	if withSpecialists {
		defs = append(defs, Specialists()...)
	}
	return Catalog{Agents: defs}
}
