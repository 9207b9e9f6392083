// Package properties is the type-specific configuration form bound to the
// node selected in an editor session.
package properties

import (
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/ghxstship/orangeseadragon-sub009/internal/editor"
	"github.com/ghxstship/orangeseadragon-sub009/internal/registry"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Field is one editable config field with its current value.
type Field struct {
	registry.FieldSpec
	Value any  `json:"value"`
	Set   bool `json:"set"`
}

// Form is everything the property panel shows for one node: the fields
// valid for its type plus the cross-cutting timeout and retry settings.
type Form struct {
	NodeID      string                `json:"nodeId"`
	Type        schema.CanvasNodeType `json:"type"`
	Label       string                `json:"label"`
	Description string                `json:"description,omitempty"`
	Fields      []Field               `json:"fields"`
	TimeoutMs   int64                 `json:"timeout"`
	Retry       *schema.RetryPolicy   `json:"retryPolicy,omitempty"`
	Errors      []string              `json:"errors,omitempty"`
}

// Editor edits node properties through an editor session.
type Editor struct {
	session *editor.Session
}

// New binds a property editor to s.
func New(s *editor.Session) *Editor {
	return &Editor{session: s}
}

func (e *Editor) selected() (string, error) {
	n, ok := e.session.SelectedNode()
	if !ok {
		return "", schema.NewError(schema.ErrCodeNotFound, "no node selected")
	}
	return n.ID, nil
}

// Form returns the form for the selected node.
func (e *Editor) Form() (Form, error) {
	id, err := e.selected()
	if err != nil {
		return Form{}, err
	}
	return e.FormFor(id)
}

// FormFor returns the form for node id.
func (e *Editor) FormFor(id string) (Form, error) {
	n, ok := e.session.Node(id)
	if !ok {
		return Form{}, schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", id)
	}
	spec, ok := registry.Lookup(n.Type)
	if !ok {
		return Form{}, schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", n.Type)
	}
	f := Form{
		NodeID:      n.ID,
		Type:        n.Type,
		Label:       n.Label,
		Description: n.Description,
		TimeoutMs:   n.EffectiveTimeoutMs(),
		Retry:       n.Retry,
		Errors:      n.ValidationErrors,
	}
	for _, fs := range spec.Fields {
		v, set := n.Config[fs.Key]
		f.Fields = append(f.Fields, Field{FieldSpec: fs, Value: v, Set: set})
	}
	return f, nil
}

// Apply merges patch into the selected node's config.
func (e *Editor) Apply(patch map[string]any) error {
	id, err := e.selected()
	if err != nil {
		return err
	}
	return e.ApplyTo(id, patch)
}

// ApplyTo merges patch into node id's config. Only fields valid for the
// node's type are accepted; values are coerced to the field kind and a nil
// value removes the key. Keys not in patch are left untouched. The patch is
// applied entirely or not at all.
func (e *Editor) ApplyTo(id string, patch map[string]any) error {
	n, ok := e.session.Node(id)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", id)
	}
	spec, ok := registry.Lookup(n.Type)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", n.Type)
	}

	coerced := make(map[string]any, len(patch))
	var problems []string
	for _, key := range sortedKeys(patch) {
		fs, ok := spec.Field(key)
		if !ok {
			problems = append(problems, "field \""+key+"\" is not valid for "+string(n.Type)+" nodes")
			continue
		}
		if patch[key] == nil {
			coerced[key] = nil
			continue
		}
		v, err := Coerce(fs, patch[key])
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		coerced[key] = v
	}
	if len(problems) > 0 {
		return schema.NewError(schema.ErrCodeValidation, strings.Join(problems, "; ")).
			WithDetails(map[string]any{"node_id": id, "problems": problems})
	}

	return e.session.UpdateNode(id, func(n *schema.CanvasNode) error {
		if n.Config == nil {
			n.Config = map[string]any{}
		}
		for k, v := range coerced {
			if v == nil {
				delete(n.Config, k)
				continue
			}
			n.Config[k] = v
		}
		return nil
	})
}

// SetLabel renames the selected node.
func (e *Editor) SetLabel(label, description string) error {
	id, err := e.selected()
	if err != nil {
		return err
	}
	return e.session.UpdateNode(id, func(n *schema.CanvasNode) error {
		n.Label = strings.TrimSpace(label)
		n.Description = strings.TrimSpace(description)
		return nil
	})
}

// SetTimeout sets the selected node's step timeout in milliseconds. Zero
// restores the default.
func (e *Editor) SetTimeout(ms int64) error {
	if ms < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "timeout must not be negative, got %d", ms)
	}
	id, err := e.selected()
	if err != nil {
		return err
	}
	return e.session.UpdateNode(id, func(n *schema.CanvasNode) error {
		n.TimeoutMs = ms
		return nil
	})
}

// SetRetry replaces the selected node's retry policy. An empty backoff
// defaults to fixed.
func (e *Editor) SetRetry(p schema.RetryPolicy) error {
	if p.Backoff == "" {
		p.Backoff = schema.BackoffFixed
	}
	if problems := p.Problems(); len(problems) > 0 {
		return schema.NewError(schema.ErrCodeValidation, strings.Join(problems, "; "))
	}
	id, err := e.selected()
	if err != nil {
		return err
	}
	return e.session.UpdateNode(id, func(n *schema.CanvasNode) error {
		n.Retry = &p
		return nil
	})
}

// ClearRetry removes the selected node's retry policy.
func (e *Editor) ClearRetry() error {
	id, err := e.selected()
	if err != nil {
		return err
	}
	return e.session.UpdateNode(id, func(n *schema.CanvasNode) error {
		n.Retry = nil
		return nil
	})
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Coerce converts a form value to the kind field f expects.
func Coerce(f registry.FieldSpec, v any) (any, error) {
	fail := func(format string, args ...any) (any, error) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, f.Key+": "+format, args...)
	}
	switch f.Kind {
	case registry.FieldString, registry.FieldText:
		switch v.(type) {
		case map[string]any, []any, bool:
			return fail("expected text, got %T", v)
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return fail("expected text, got %T", v)
		}
		return s, nil

	case registry.FieldNumber, registry.FieldInteger:
		if _, isBool := v.(bool); isBool {
			return fail("expected a number, got a boolean")
		}
		if s, isStr := v.(string); isStr {
			v = strings.TrimSpace(s)
		}
		n, err := cast.ToFloat64E(v)
		if err != nil {
			return fail("expected a number, got %v", v)
		}
		if f.Min != nil && n < *f.Min {
			return fail("must be at least %v", *f.Min)
		}
		if f.Kind == registry.FieldNumber {
			return n, nil
		}
		if n != float64(int64(n)) {
			return fail("expected a whole number, got %v", n)
		}
		return int(n), nil

	case registry.FieldBoolean:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fail("expected true or false, got %v", v)
		}
		return b, nil

	case registry.FieldEnum:
		s, err := cast.ToStringE(v)
		if err != nil {
			return fail("expected one of %s", strings.Join(f.Options, ", "))
		}
		for _, opt := range f.Options {
			if s == opt {
				return s, nil
			}
		}
		return fail("%q is not one of %s", s, strings.Join(f.Options, ", "))

	case registry.FieldList:
		switch val := v.(type) {
		case []any:
			return schema.CloneValue(val), nil
		case []string:
			out := make([]any, len(val))
			for i, s := range val {
				out[i] = s
			}
			return out, nil
		case string:
			var out []any
			for _, part := range strings.Split(val, ",") {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
			if out == nil {
				out = []any{}
			}
			return out, nil
		}
		return fail("expected a list, got %T", v)

	case registry.FieldMap:
		m, err := cast.ToStringMapE(v)
		if err != nil {
			return fail("expected an object, got %T", v)
		}
		return schema.CloneMap(m), nil

	default:
		return schema.CloneValue(v), nil
	}
}
