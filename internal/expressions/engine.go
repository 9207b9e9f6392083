package expressions

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Engine evaluates a source expression against an execution context.
// Implementations cache compiled programs and are safe for concurrent use.
type Engine interface {
	Name() string
	// Check compiles expression without running it.
	Check(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engines is the set of script languages run_script accepts.
type Engines struct {
	byName map[string]Engine
}

// NewEngines builds the expr, cel and jq engines.
func NewEngines() (*Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("cel engine: %w", err)
	}
	return NewEnginesFrom(NewExprEngine(), celEngine, NewGoJQEngine()), nil
}

// NewEnginesFrom builds a set from explicit engines.
func NewEnginesFrom(engines ...Engine) *Engines {
	e := &Engines{byName: make(map[string]Engine, len(engines))}
	for _, eng := range engines {
		e.byName[eng.Name()] = eng
	}
	return e
}

// Get returns the engine for a language.
func (e *Engines) Get(language string) (Engine, error) {
	eng, ok := e.byName[language]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown script language %q (have %v)", language, e.Names())
	}
	return eng, nil
}

// Check compiles source in language.
func (e *Engines) Check(language, source string) error {
	eng, err := e.Get(language)
	if err != nil {
		return err
	}
	return eng.Check(source)
}

// Names lists the languages, sorted.
func (e *Engines) Names() []string {
	return slices.Sorted(maps.Keys(e.byName))
}

// maxPrograms bounds each engine's cache. Workflow scripts are few and
// stable; a full cache is simply dropped and refilled.
const maxPrograms = 512

// programCache memoizes compiled programs by source text.
type programCache[P any] struct {
	mu       sync.RWMutex
	programs map[string]P
	compile  func(source string) (P, error)
}

func newProgramCache[P any](compile func(string) (P, error)) *programCache[P] {
	return &programCache[P]{programs: make(map[string]P), compile: compile}
}

func (c *programCache[P]) get(source string) (P, error) {
	c.mu.RLock()
	p, ok := c.programs[source]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[source]; ok {
		return p, nil
	}
	p, err := c.compile(source)
	if err != nil {
		return p, err
	}
	if len(c.programs) >= maxPrograms {
		clear(c.programs)
	}
	c.programs[source] = p
	return p, nil
}

func (c *programCache[P]) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

func emptySource(language string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "empty %s expression", language)
}

func compileError(language, source string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s compile error in %q: %s", language, source, err).WithCause(err)
}

func evalError(language, source string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStepFailed, "%s evaluation failed for %q: %s", language, source, err).WithCause(err)
}
