package manifest

// Extension type names, matching the top-level arrays of the host's
// settings document.
const (
	TypeHook    = "hook"
	TypeMCP     = "mcp"
	TypeAgent   = "agent"
	TypeCommand = "command"
)

// FileName is the manifest file every extension package must carry at
// its root.
const FileName = "manifest.yaml"

// BaseManifest contains fields shared by all manifest types.
type BaseManifest struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"`
	Version     string   `yaml:"version" json:"version"`
	Description string   `yaml:"description" json:"description"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Author      string   `yaml:"author,omitempty" json:"author,omitempty"`
}

// HookManifest declares a lifecycle hook: a script the host runs on the
// listed events.
type HookManifest struct {
	BaseManifest `yaml:",inline"`
	Events       []string `yaml:"events" json:"events"`
	Script       string   `yaml:"script" json:"script"`
	Timeout      int      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// MCPManifest declares an MCP server the host can launch.
type MCPManifest struct {
	BaseManifest `yaml:",inline"`
	Command      string            `yaml:"command" json:"command"`
	Args         []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Transport    string            `yaml:"transport,omitempty" json:"transport,omitempty"`
}

// AgentManifest declares a subagent definition.
type AgentManifest struct {
	BaseManifest `yaml:",inline"`
	Prompt       string   `yaml:"prompt" json:"prompt"`
	Model        string   `yaml:"model,omitempty" json:"model,omitempty"`
	Tools        []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// CommandManifest declares a slash command template.
type CommandManifest struct {
	BaseManifest `yaml:",inline"`
	Template     string `yaml:"template" json:"template"`
	ArgumentHint string `yaml:"argument_hint,omitempty" json:"argument_hint,omitempty"`
}
