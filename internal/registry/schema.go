package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

var (
	configSchemas = map[schema.CanvasNodeType]*jsonschema.Schema{}
	printer       = message.NewPrinter(language.English)
	cronParser    = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// CronParser is the parser used for schedule triggers.
func CronParser() cron.Parser { return cronParser }

// ConfigSchema returns the JSON Schema document derived from the spec's fields.
func (s *Spec) ConfigSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	var required []any
	for _, f := range s.Fields {
		props[f.Key] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Key)
		}
	}
	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func fieldSchema(f FieldSpec) map[string]any {
	out := map[string]any{}
	switch f.Kind {
	case FieldString, FieldText:
		out["type"] = "string"
		if f.Required {
			out["minLength"] = 1
		}
	case FieldNumber:
		out["type"] = "number"
	case FieldInteger:
		out["type"] = "integer"
	case FieldBoolean:
		out["type"] = "boolean"
	case FieldEnum:
		out["type"] = "string"
		enum := make([]any, len(f.Options))
		for i, o := range f.Options {
			enum[i] = o
		}
		out["enum"] = enum
	case FieldList:
		out["type"] = "array"
		if f.Required {
			out["minItems"] = 1
		}
	case FieldMap:
		out["type"] = "object"
	}
	if f.Min != nil {
		out["minimum"] = *f.Min
	}
	return out
}

func schemaURL(t schema.CanvasNodeType) string {
	return fmt.Sprintf("https://flowd.local/schemas/nodes/%s.json", t)
}

func compileSchemas() error {
	c := jsonschema.NewCompiler()
	for t, s := range specs {
		doc, err := toJSONValue(s.ConfigSchema())
		if err != nil {
			return fmt.Errorf("encode %s schema: %w", t, err)
		}
		if err := c.AddResource(schemaURL(t), doc); err != nil {
			return fmt.Errorf("add %s schema: %w", t, err)
		}
	}
	for t := range specs {
		compiled, err := c.Compile(schemaURL(t))
		if err != nil {
			return fmt.Errorf("compile %s schema: %w", t, err)
		}
		configSchemas[t] = compiled
	}
	return nil
}

// ValidateConfig checks a node's config against its type. It returns
// human-readable messages, sorted, or nil when the config is valid.
func ValidateConfig(t schema.CanvasNodeType, config map[string]any) []string {
	compiled, ok := configSchemas[t]
	if !ok {
		return []string{fmt.Sprintf("unknown node type %q", t)}
	}
	if config == nil {
		config = map[string]any{}
	}

	var msgs []string
	doc, err := toJSONValue(config)
	if err != nil {
		return []string{fmt.Sprintf("config is not JSON-serializable: %v", err)}
	}
	if err := compiled.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			msgs = append(msgs, collectViolations(verr)...)
		} else {
			msgs = append(msgs, err.Error())
		}
	}
	msgs = append(msgs, crossFieldChecks(t, config)...)

	if len(msgs) == 0 {
		return nil
	}
	sort.Strings(msgs)
	return dedupe(msgs)
}

// crossFieldChecks covers rules that depend on more than one field.
func crossFieldChecks(t schema.CanvasNodeType, config map[string]any) []string {
	switch t {
	case schema.NodeCondition:
		if isBlank(config["field"]) && isBlank(config["expression"]) {
			return []string{"field or expression is required"}
		}
	case schema.NodeTrigger:
		if config["event"] == "schedule" {
			expr, _ := config["cron"].(string)
			if strings.TrimSpace(expr) == "" {
				return []string{"cron is required for schedule triggers"}
			}
			if _, err := cronParser.Parse(expr); err != nil {
				return []string{fmt.Sprintf("cron: %v", err)}
			}
		}
	}
	return nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// collectViolations flattens a validation error tree into field messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) > 0 {
		var out []string
		for _, cause := range verr.Causes {
			out = append(out, collectViolations(cause)...)
		}
		return out
	}

	field := strings.Join(verr.InstanceLocation, ".")
	switch k := verr.ErrorKind.(type) {
	case *kind.Required:
		out := make([]string, 0, len(k.Missing))
		for _, m := range k.Missing {
			out = append(out, m+" is required")
		}
		return out
	case *kind.MinLength, *kind.MinItems:
		return []string{field + " is required"}
	}
	msg := verr.ErrorKind.LocalizedString(printer)
	if field == "" {
		return []string{msg}
	}
	return []string{field + ": " + msg}
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i > 0 && s == sorted[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}

// toJSONValue round-trips v through encoding/json so numbers become
// json.Number, which the schema validator requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
