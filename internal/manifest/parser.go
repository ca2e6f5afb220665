package manifest

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// Parse reads a manifest file and returns only the base fields. Useful
// for quick type detection without full parsing.
func Parse(path string) (*BaseManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var base BaseManifest
	if err := yaml.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &base, nil
}

// ParseFile reads a manifest file, detects its type, and returns the
// fully typed manifest struct: one of *HookManifest, *MCPManifest,
// *AgentManifest, or *CommandManifest.
func ParseFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var base BaseManifest
	if err := yaml.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	switch base.Type {
	case TypeHook:
		return parseTyped[HookManifest](data, path)
	case TypeMCP:
		return parseTyped[MCPManifest](data, path)
	case TypeAgent:
		return parseTyped[AgentManifest](data, path)
	case TypeCommand:
		return parseTyped[CommandManifest](data, path)
	default:
		return nil, fmt.Errorf("unknown manifest type %q in %s", base.Type, path)
	}
}

// parseTyped unmarshals YAML data into a typed manifest struct.
func parseTyped[T any](data []byte, path string) (*T, error) {
	var m T
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &m, nil
}
