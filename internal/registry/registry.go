// Package registry is the static catalog of canvas node types: palette
// metadata, default configuration, editable fields and config schemas.
package registry

import (
	"fmt"
	"sort"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Category groups node types in the palette.
type Category string

const (
	CategoryTrigger     Category = "trigger"
	CategoryLogic       Category = "logic"
	CategoryAction      Category = "action"
	CategoryFlow        Category = "flow"
	CategoryIntegration Category = "integration"
)

// FieldKind is the value kind accepted by a config field.
type FieldKind string

const (
	FieldString  FieldKind = "string"
	FieldText    FieldKind = "text"
	FieldNumber  FieldKind = "number"
	FieldInteger FieldKind = "integer"
	FieldBoolean FieldKind = "boolean"
	FieldEnum    FieldKind = "enum"
	FieldList    FieldKind = "list"
	FieldMap     FieldKind = "map"
	FieldAny     FieldKind = "any"
)

// FieldSpec describes one type-specific configuration field.
type FieldSpec struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Kind     FieldKind `json:"kind"`
	Required bool      `json:"required,omitempty"`
	Options  []string  `json:"options,omitempty"`
	Min      *float64  `json:"min,omitempty"`
	Help     string    `json:"help,omitempty"`
}

// Spec is the registry entry for one node type.
type Spec struct {
	Type          schema.CanvasNodeType `json:"type"`
	Label         string                `json:"label"`
	Icon          string                `json:"icon"`
	ColorClass    string                `json:"colorClass"`
	Category      Category              `json:"category"`
	DefaultConfig map[string]any        `json:"defaultConfig"`
	Fields        []FieldSpec           `json:"fields"`
	// Outputs lists the source handles the node exposes.
	Outputs []schema.Handle `json:"outputs"`
	// HasInput is false for nodes that cannot be connection targets.
	HasInput bool `json:"hasInput"`
}

// Field returns the field spec for key.
func (s *Spec) Field(key string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// HasOutput reports whether h is one of the node's source handles.
func (s *Spec) HasOutput(h schema.Handle) bool {
	for _, o := range s.Outputs {
		if o == h {
			return true
		}
	}
	return false
}

var specs = map[schema.CanvasNodeType]*Spec{}

func init() {
	for _, s := range builtinSpecs() {
		specs[s.Type] = s
	}
	for _, t := range schema.AllNodeTypes() {
		if _, ok := specs[t]; !ok {
			panic(fmt.Sprintf("registry: node type %q has no spec", t))
		}
	}
	if err := compileSchemas(); err != nil {
		panic(fmt.Sprintf("registry: %v", err))
	}
}

// Lookup returns the spec for t.
func Lookup(t schema.CanvasNodeType) (*Spec, bool) {
	s, ok := specs[t]
	return s, ok
}

// MustLookup returns the spec for t and panics on unknown types.
func MustLookup(t schema.CanvasNodeType) *Spec {
	s, ok := specs[t]
	if !ok {
		panic(fmt.Sprintf("registry: unknown node type %q", t))
	}
	return s
}

// All returns every spec in palette order.
func All() []*Spec {
	out := make([]*Spec, 0, len(specs))
	for _, t := range schema.AllNodeTypes() {
		out = append(out, specs[t])
	}
	return out
}

// ByCategory groups specs by category, each group in palette order.
func ByCategory() map[Category][]*Spec {
	out := make(map[Category][]*Spec)
	for _, s := range All() {
		out[s.Category] = append(out[s.Category], s)
	}
	return out
}

// Categories returns the categories present in the registry, sorted.
func Categories() []Category {
	seen := make(map[Category]bool)
	var out []Category
	for _, s := range specs {
		if !seen[s.Category] {
			seen[s.Category] = true
			out = append(out, s.Category)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultConfig returns a fresh copy of the default config for t.
func DefaultConfig(t schema.CanvasNodeType) map[string]any {
	s, ok := specs[t]
	if !ok {
		return map[string]any{}
	}
	cfg := schema.CloneMap(s.DefaultConfig)
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg
}
