package main

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// loadWorkflowFile reads a definition from YAML or JSON. JSON parses as YAML,
// so one decoder serves both. Unknown keys are ignored so API exports load.
func loadWorkflowFile(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	return parseWorkflow(data)
}

func parseWorkflow(data []byte) (*schema.WorkflowDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow file is empty")
	}
	var def schema.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse workflow: %v", err)
	}
	if def.Graph == nil && len(def.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has neither a graph nor steps")
	}
	return &def, nil
}
