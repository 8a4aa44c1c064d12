package skills

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"
)

// Visibility controls who can see and call a skill.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// FunctionDef declares one callable function of a skill.
type FunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Manifest describes a skill: its identity, audit metadata, visibility scope
// and declared functions.
type Manifest struct {
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Description string        `json:"description,omitempty"`
	Author      string        `json:"author,omitempty"`
	AuditLevel  string        `json:"auditLevel,omitempty"`
	Visibility  Visibility    `json:"visibility,omitempty"`
	Owner       string        `json:"owner,omitempty"`
	Functions   []FunctionDef `json:"functions"`
}

// manifestSchema validates skill manifests on registration and import.
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version", "functions"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "description": {"type": "string"},
    "author": {"type": "string"},
    "auditLevel": {"type": "string"},
    "visibility": {"type": "string", "enum": ["public", "private"]},
    "owner": {"type": "string"},
    "functions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "parameters": {"type": "object"}
        }
      }
    }
  }
}`

var skillNameRegex = regexp.MustCompile(`^[a-z0-9_-]+$`)

var schemaLoader = gojsonschema.NewStringLoader(manifestSchema)

// ValidateManifest checks a manifest against the skill schema plus the
// naming rules the schema cannot express.
func ValidateManifest(m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msg := ""
		for i, verr := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += verr.String()
		}
		return fmt.Errorf("invalid manifest: %s", msg)
	}

	if !skillNameRegex.MatchString(m.Name) {
		return fmt.Errorf("invalid skill name %q (must be lowercase alphanumeric with hyphens or underscores)", m.Name)
	}
	if m.Visibility == VisibilityPrivate && m.Owner == "" {
		return fmt.Errorf("private skill %q must declare an owner", m.Name)
	}

	seen := make(map[string]bool, len(m.Functions))
	for _, fn := range m.Functions {
		if seen[fn.Name] {
			return fmt.Errorf("duplicate function %q in skill %q", fn.Name, m.Name)
		}
		seen[fn.Name] = true
	}

	return nil
}

// ParseManifest parses a manifest from JSON bytes.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}
	return m, nil
}
