package actions

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Recipient aliases resolved against the entity.
const (
	AliasAssignedTo = "assigned_to"
	AliasCreatedBy  = "created_by"
)

// Recipients is the outcome of resolving a recipient list.
type Recipients struct {
	// IDs are user ids, de-duplicated in first-seen order.
	IDs []string
	// Unresolved are entries that named no user.
	Unresolved []string
}

// ResolveRecipients turns aliases and user ids into a de-duplicated list of
// user ids. An alias reads the entity field of the same name, which may hold
// one id or a list of ids. Anything that is not a UUID after alias expansion
// is reported as unresolved.
func ResolveRecipients(entries []any, entity map[string]any) Recipients {
	var r Recipients
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			r.IDs = append(r.IDs, id)
		}
	}

	for _, entry := range entries {
		raw := strings.TrimSpace(fmt.Sprint(entry))
		if raw == "" {
			continue
		}
		candidates := []any{raw}
		switch raw {
		case AliasAssignedTo, AliasCreatedBy:
			candidates = aliasValues(entity, raw)
		}
		if len(candidates) == 0 {
			r.Unresolved = append(r.Unresolved, raw)
			continue
		}
		for _, c := range candidates {
			s, ok := c.(string)
			if !ok {
				r.Unresolved = append(r.Unresolved, fmt.Sprint(c))
				continue
			}
			id, err := uuid.Parse(strings.TrimSpace(s))
			if err != nil {
				r.Unresolved = append(r.Unresolved, s)
				continue
			}
			add(id.String())
		}
	}
	return r
}

func aliasValues(entity map[string]any, alias string) []any {
	if entity == nil {
		return nil
	}
	switch v := entity[alias].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []any{v}
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	}
	return nil
}
