package merge

import (
	"fmt"
	"reflect"
	"sort"
)

// Strategy selects how two arrays at the same key are combined.
type Strategy string

const (
	// StrategyAppend concatenates both arrays with no deduplication.
	// Repeating the same merge duplicates entries; this is inherent to
	// the strategy and documented rather than silently corrected.
	StrategyAppend Strategy = "append"
	// StrategyDedupe concatenates, then drops later items whose identity
	// (the "name" field, or full structural equality when there is no
	// name) duplicates an earlier item. The first occurrence keeps its
	// position. Idempotent.
	StrategyDedupe Strategy = "dedupe"
	// StrategyReplace makes the incoming array wholly replace the
	// existing one. Idempotent.
	StrategyReplace Strategy = "replace"
)

// StructuralError reports a malformed input document. Ordinary conflicts
// are never errors; this is reserved for documents that are not mappings
// at all.
type StructuralError struct {
	Side string // "current" or "incoming"
	Got  any
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural conflict: %s document is %T, not a mapping", e.Side, e.Got)
}

// Options configures a merge.
type Options struct {
	ArrayStrategy    Strategy
	ResolveConflicts bool       // hand conflicts to Resolver instead of Default
	Default          Resolution // applied when ResolveConflicts is false
	Resolver         Resolver
}

// DefaultOptions keep existing values on conflict and dedupe arrays.
func DefaultOptions() Options {
	return Options{
		ArrayStrategy:    StrategyDedupe,
		ResolveConflicts: false,
		Default:          KeepExisting,
	}
}

// Result carries the merged document plus everything that happened along
// the way. The merged document is not yet persisted.
type Result struct {
	Merged      map[string]any `json:"merged,omitempty"`
	Success     bool           `json:"success"`
	ChangesMade []string       `json:"changes_made"`
	Conflicts   []Conflict     `json:"conflicts"`
	Warnings    []string       `json:"warnings"`
}

// Merge deep-merges incoming into current and returns the result. Both
// inputs must be mappings (map[string]any as produced by a JSON or YAML
// decode); anything else is a structural failure. The inputs are never
// mutated: the merged document shares no containers with either.
func Merge(current, incoming any, opts Options) (*Result, error) {
	cur, ok := asMap(current)
	if !ok {
		return &Result{Success: false}, &StructuralError{Side: "current", Got: current}
	}
	inc, ok := asMap(incoming)
	if !ok {
		return &Result{Success: false}, &StructuralError{Side: "incoming", Got: incoming}
	}
	if opts.ArrayStrategy == "" {
		opts.ArrayStrategy = StrategyDedupe
	}
	if opts.Default == "" {
		opts.Default = KeepExisting
	}

	m := &merger{opts: opts}
	merged := deepCopyMap(cur)
	if err := m.mergeMap("", merged, inc); err != nil {
		return &Result{Success: false, Conflicts: m.conflicts}, err
	}

	return &Result{
		Merged:      merged,
		Success:     true,
		ChangesMade: m.changes,
		Conflicts:   m.conflicts,
		Warnings:    m.warnings,
	}, nil
}

type merger struct {
	opts      Options
	changes   []string
	conflicts []Conflict
	warnings  []string
}

// mergeMap merges inc into dst in place. Keys are visited in a
// deterministic order: the well-known extension-type keys first, then the
// remaining keys sorted, recursing depth-first before moving to the next
// sibling.
func (m *merger) mergeMap(path string, dst, inc map[string]any) error {
	for _, key := range orderedKeys(inc) {
		keyPath := joinPath(path, key)
		iv := inc[key]
		cv, exists := dst[key]

		if !exists {
			dst[key] = deepCopy(iv)
			m.changes = append(m.changes, fmt.Sprintf("added %s", keyPath))
			continue
		}

		cvMap, cvIsMap := asMap(cv)
		ivMap, ivIsMap := asMap(iv)
		cvArr, cvIsArr := asArray(cv)
		ivArr, ivIsArr := asArray(iv)

		switch {
		case cvIsMap && ivIsMap:
			if err := m.mergeMap(keyPath, cvMap, ivMap); err != nil {
				return err
			}

		case cvIsArr && ivIsArr:
			merged, err := m.mergeArrays(keyPath, cvArr, ivArr)
			if err != nil {
				return err
			}
			dst[key] = merged

		case cvIsMap != ivIsMap || cvIsArr != ivIsArr:
			// Container on one side, something else on the other. No
			// structural merge is attempted; both sides go to the
			// resolver verbatim.
			if err := m.resolveConflict(keyPath, dst, key, cv, iv, ConflictTypeMismatch); err != nil {
				return err
			}

		default:
			if reflect.DeepEqual(cv, iv) {
				continue
			}
			if err := m.resolveConflict(keyPath, dst, key, cv, iv, ConflictScalar); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveConflict records the conflict, asks the resolver (or applies the
// default), and mutates dst accordingly.
func (m *merger) resolveConflict(keyPath string, dst map[string]any, key string, existing, incoming any, ct ConflictType) error {
	c := Conflict{KeyPath: keyPath, Existing: existing, Incoming: incoming, Type: ct}

	resolution := m.opts.Default
	if m.opts.ResolveConflicts && m.opts.Resolver != nil {
		r, err := m.opts.Resolver.Resolve(c)
		if err != nil {
			return fmt.Errorf("resolving conflict at %s: %w", keyPath, err)
		}
		resolution = r
	}

	c.Resolution = resolution
	m.conflicts = append(m.conflicts, c)

	if resolution == UseIncoming {
		dst[key] = deepCopy(incoming)
		m.changes = append(m.changes, fmt.Sprintf("replaced %s", keyPath))
	}
	return nil
}

// mergeArrays applies the configured array strategy.
func (m *merger) mergeArrays(keyPath string, existing, incoming []any) ([]any, error) {
	switch m.opts.ArrayStrategy {
	case StrategyReplace:
		if !reflect.DeepEqual(existing, incoming) {
			m.changes = append(m.changes, fmt.Sprintf("replaced %s", keyPath))
		}
		return deepCopyArray(incoming), nil

	case StrategyAppend:
		out := deepCopyArray(existing)
		out = append(out, deepCopyArray(incoming)...)
		if len(incoming) > 0 {
			m.changes = append(m.changes, fmt.Sprintf("appended %d items to %s", len(incoming), keyPath))
			if overlap := identityOverlap(existing, incoming); overlap > 0 {
				m.warnings = append(m.warnings, fmt.Sprintf("%s: append strategy duplicated %d existing entries; repeat merges will keep duplicating them", keyPath, overlap))
			}
		}
		return out, nil

	case StrategyDedupe:
		out := deepCopyArray(existing)
		added := 0
		for _, item := range incoming {
			idx := indexByIdentity(out, item)
			if idx == -1 {
				out = append(out, deepCopy(item))
				added++
				continue
			}
			// Same identity, first occurrence wins unless a resolver
			// decides otherwise. Differing content always surfaces as a
			// conflict.
			if !reflect.DeepEqual(out[idx], item) {
				conflict := Conflict{
					KeyPath:    fmt.Sprintf("%s[%s]", keyPath, identityOf(item)),
					Existing:   out[idx],
					Incoming:   item,
					Type:       ConflictArrayItem,
					Resolution: KeepExisting,
				}
				if m.opts.ResolveConflicts && m.opts.Resolver != nil {
					res, err := m.opts.Resolver.Resolve(conflict)
					if err != nil {
						return nil, fmt.Errorf("resolving conflict at %s: %w", conflict.KeyPath, err)
					}
					conflict.Resolution = res
				}
				if conflict.Resolution == UseIncoming {
					out[idx] = deepCopy(item)
					m.changes = append(m.changes, fmt.Sprintf("replaced %s", conflict.KeyPath))
				}
				m.conflicts = append(m.conflicts, conflict)
			}
		}
		if added > 0 {
			m.changes = append(m.changes, fmt.Sprintf("added %d items to %s", added, keyPath))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown array strategy %q", m.opts.ArrayStrategy)
	}
}

// identityOf returns the dedup identity of an array item: the "name"
// field when present, otherwise empty (meaning structural equality is the
// identity).
func identityOf(item any) string {
	if m, ok := asMap(item); ok {
		if name, ok := m["name"].(string); ok {
			return name
		}
	}
	return ""
}

// indexByIdentity finds the first item in arr with the same identity as
// item, or -1. Items without a name match only on structural equality.
func indexByIdentity(arr []any, item any) int {
	name := identityOf(item)
	for i, existing := range arr {
		if name != "" {
			if identityOf(existing) == name {
				return i
			}
			continue
		}
		if reflect.DeepEqual(existing, item) {
			return i
		}
	}
	return -1
}

func identityOverlap(existing, incoming []any) int {
	count := 0
	for _, item := range incoming {
		if indexByIdentity(existing, item) != -1 {
			count++
		}
	}
	return count
}

// extensionKeys is the canonical order of the well-known top-level keys.
// They are visited before any other key so conflict ordering is stable
// across runs regardless of map iteration order.
var extensionKeys = []string{"hooks", "mcps", "agents", "commands", "settings"}

func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range extensionKeys {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asArray(v any) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		return deepCopyArray(val)
	default:
		return val
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopyArray(a []any) []any {
	out := make([]any, len(a))
	for i, v := range a {
		out[i] = deepCopy(v)
	}
	return out
}
