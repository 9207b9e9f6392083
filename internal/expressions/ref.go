package expressions

import (
	"strconv"
	"strings"
)

// RefKind classifies a parsed value reference.
type RefKind int

const (
	// RefLiteral is returned unchanged.
	RefLiteral RefKind = iota
	// RefPath is a dotted path with no array indexing.
	RefPath
	// RefIndexedPath is a dotted path with at least one [i] index.
	RefIndexedPath
)

func (k RefKind) String() string {
	switch k {
	case RefPath:
		return "path"
	case RefIndexedPath:
		return "indexed-path"
	default:
		return "literal"
	}
}

// Segment is one dotted component of a path, with optional array indexes
// applied after the key lookup.
type Segment struct {
	Key     string
	Indexes []int
}

// Ref is the parsed form of a configured value. Parse once, resolve many.
type Ref struct {
	Kind     RefKind
	Raw      string
	Segments []Segment
}

// Resolution is the result of resolving a Ref. Found is false when the path
// does not exist, which is distinct from a path holding null.
type Resolution struct {
	Value any
	Found bool
}

const entityPrefix = "entity."

// ParseRef parses s. "{{a.b[0]}}" and "entity.x" are paths; anything else,
// including malformed paths, is a literal.
func ParseRef(s string) Ref {
	if inner, ok := templateBody(s); ok {
		if segs, indexed, ok := parsePath(inner); ok {
			return newPathRef(s, segs, indexed)
		}
		return Ref{Kind: RefLiteral, Raw: s}
	}
	if strings.HasPrefix(s, entityPrefix) {
		if segs, indexed, ok := parsePath(s); ok {
			return newPathRef(s, segs, indexed)
		}
	}
	return Ref{Kind: RefLiteral, Raw: s}
}

func newPathRef(raw string, segs []Segment, indexed bool) Ref {
	kind := RefPath
	if indexed {
		kind = RefIndexedPath
	}
	return Ref{Kind: kind, Raw: raw, Segments: segs}
}

// templateBody returns the trimmed text between "{{" and "}}" when s is
// exactly one template.
func templateBody(s string) (string, bool) {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") || len(s) < 4 {
		return "", false
	}
	inner := s[2 : len(s)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

func parsePath(p string) ([]Segment, bool, bool) {
	if p == "" {
		return nil, false, false
	}
	parts := strings.Split(p, ".")
	segs := make([]Segment, 0, len(parts))
	indexed := false
	for _, part := range parts {
		seg, ok := parseSegment(part)
		if !ok {
			return nil, false, false
		}
		if len(seg.Indexes) > 0 {
			indexed = true
		}
		segs = append(segs, seg)
	}
	return segs, indexed, true
}

func parseSegment(part string) (Segment, bool) {
	key := part
	var idxs []int
	if open := strings.IndexByte(part, '['); open >= 0 {
		key = part[:open]
		rest := part[open:]
		for rest != "" {
			if rest[0] != '[' {
				return Segment{}, false
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return Segment{}, false
			}
			n, err := strconv.Atoi(rest[1:end])
			if err != nil || n < 0 {
				return Segment{}, false
			}
			idxs = append(idxs, n)
			rest = rest[end+1:]
		}
	}
	if key == "" || !validKey(key) {
		return Segment{}, false
	}
	return Segment{Key: key, Indexes: idxs}, true
}

func validKey(k string) bool {
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '$':
		default:
			return false
		}
	}
	return true
}

// IsPath reports whether the ref reads from the context.
func (r Ref) IsPath() bool {
	return r.Kind != RefLiteral
}

// Path renders the segments back to dotted form.
func (r Ref) Path() string {
	var b strings.Builder
	for i, s := range r.Segments {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Key)
		for _, idx := range s.Indexes {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(idx))
			b.WriteByte(']')
		}
	}
	return b.String()
}

// Resolve evaluates the ref against data. Literals resolve to their raw
// string and are always found.
func (r Ref) Resolve(data map[string]any) Resolution {
	if r.Kind == RefLiteral {
		return Resolution{Value: r.Raw, Found: true}
	}
	var cur any = data
	for _, seg := range r.Segments {
		next, ok := lookupKey(cur, seg.Key)
		if !ok {
			return Resolution{}
		}
		for _, idx := range seg.Indexes {
			next, ok = lookupIndex(next, idx)
			if !ok {
				return Resolution{}
			}
		}
		cur = next
	}
	return Resolution{Value: cur, Found: true}
}

func lookupKey(cur any, key string) (any, bool) {
	switch v := cur.(type) {
	case map[string]any:
		val, ok := v[key]
		return val, ok
	case map[string]string:
		val, ok := v[key]
		return val, ok
	case []any, []string, []map[string]any:
		n, err := strconv.Atoi(key)
		if err != nil {
			return nil, false
		}
		return lookupIndex(cur, n)
	default:
		return nil, false
	}
}

func lookupIndex(cur any, idx int) (any, bool) {
	switch v := cur.(type) {
	case []any:
		if idx < len(v) {
			return v[idx], true
		}
	case []string:
		if idx < len(v) {
			return v[idx], true
		}
	case []map[string]any:
		if idx < len(v) {
			return v[idx], true
		}
	}
	return nil, false
}

// Resolve resolves a configured value: strings are parsed as refs, anything
// else is returned as is.
func Resolve(v any, data map[string]any) Resolution {
	s, ok := v.(string)
	if !ok {
		return Resolution{Value: v, Found: true}
	}
	return ParseRef(s).Resolve(data)
}

// ResolveValue is Resolve without the found flag; missing paths yield nil.
func ResolveValue(v any, data map[string]any) any {
	return Resolve(v, data).Value
}
