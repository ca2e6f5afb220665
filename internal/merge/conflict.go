package merge

import "fmt"

// ConflictType classifies how the two sides of a conflict disagree.
type ConflictType string

const (
	// ConflictScalar: both sides are scalars with different values.
	ConflictScalar ConflictType = "scalar"
	// ConflictArrayItem: an incoming array item shares its identity with
	// an existing item but differs in content.
	ConflictArrayItem ConflictType = "array-item"
	// ConflictTypeMismatch: one side is a container and the other is not.
	// The subtree is never merged structurally; both sides are captured
	// verbatim for the resolver.
	ConflictTypeMismatch ConflictType = "type-mismatch"
)

// Resolution is the outcome applied to a conflict.
type Resolution string

const (
	KeepExisting Resolution = "keep_existing"
	UseIncoming  Resolution = "use_incoming"
)

// Conflict records one disagreement between the current and incoming
// documents, and the resolution ultimately applied to it.
type Conflict struct {
	KeyPath    string       `json:"key_path"`
	Existing   any          `json:"existing_value"`
	Incoming   any          `json:"new_value"`
	Type       ConflictType `json:"conflict_type"`
	Resolution Resolution   `json:"resolution"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s at %s: existing=%v incoming=%v -> %s", c.Type, c.KeyPath, c.Existing, c.Incoming, c.Resolution)
}

// Resolver decides the outcome of a single conflict. Implementations may
// consult policy, or block for a human choice in interactive mode.
type Resolver interface {
	Resolve(c Conflict) (Resolution, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(c Conflict) (Resolution, error)

func (f ResolverFunc) Resolve(c Conflict) (Resolution, error) { return f(c) }

// StaticResolver resolves every conflict the same way.
func StaticResolver(r Resolution) Resolver {
	return ResolverFunc(func(Conflict) (Resolution, error) { return r, nil })
}
