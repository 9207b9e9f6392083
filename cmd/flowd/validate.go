package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ghxstship/orangeseadragon-sub009/internal/actions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/compiler"
	"github.com/ghxstship/orangeseadragon-sub009/internal/expressions"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	stepStyle    = lipgloss.NewStyle().PaddingLeft(2)
)

var errInvalidWorkflow = errors.New("workflow is invalid")

func newValidateCmd(_ *app) *cobra.Command {
	var showSteps bool
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML or JSON workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadWorkflowFile(args[0])
			if err != nil {
				return err
			}
			comp, err := offlineCompiler()
			if err != nil {
				return err
			}
			steps, result, _ := comp.CompileDefinition(def)
			writeReport(cmd.OutOrStdout(), def, steps, result, showSteps)
			if result != nil && !result.Valid() {
				return errInvalidWorkflow
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSteps, "steps", false, "list the compiled steps")
	return cmd
}

// offlineCompiler knows the built-in actions and script languages without a
// database.
func offlineCompiler() (*compiler.Compiler, error) {
	engines, err := expressions.NewEngines()
	if err != nil {
		return nil, err
	}
	reg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(reg, actions.Dependencies{Engines: engines}); err != nil {
		return nil, err
	}
	return compiler.New(compiler.WithActions(reg)), nil
}

func writeReport(w io.Writer, def *schema.WorkflowDefinition, steps []schema.Step, result *schema.ValidationResult, showSteps bool) {
	if result == nil {
		result = &schema.ValidationResult{}
	}
	name := def.Name
	if name == "" {
		name = "(unnamed workflow)"
	}
	fmt.Fprintln(w, titleStyle.Render(name))

	if result.Valid() {
		fmt.Fprintf(w, "%s %s\n", okStyle.Render("valid"), detailStyle.Render(fmt.Sprintf("%d steps", len(steps))))
	} else {
		fmt.Fprintf(w, "%s %s\n", errorStyle.Render("invalid"), detailStyle.Render(fmt.Sprintf("%d errors", len(result.Errors))))
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s %s %s\n", errorStyle.Render("error"), e.String(), detailStyle.Render("["+e.Code+"]"))
	}
	for _, e := range result.Warnings {
		fmt.Fprintf(w, "  %s %s\n", warningStyle.Render("warning"), e.String())
	}

	if !showSteps || len(steps) == 0 {
		return
	}
	fmt.Fprintln(w, titleStyle.Render("steps"))
	for _, st := range steps {
		fmt.Fprintln(w, stepStyle.Render(describeStep(st)))
	}
}

func describeStep(st schema.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", st.Index, st.Type)
	switch st.Type {
	case schema.StepAction:
		fmt.Fprintf(&b, " %s", st.ConfigString("action"))
	case schema.StepWait:
		fmt.Fprintf(&b, " for %s", st.ConfigString("for"))
	case schema.StepCondition:
		fmt.Fprintf(&b, " true→%s false→%s", target(st.OnTrue), target(st.OnFalse))
		return b.String()
	}
	fmt.Fprintf(&b, " →%s", target(st.Next))
	return b.String()
}

func target(i int) string {
	if i == schema.StepEnd {
		return "end"
	}
	return fmt.Sprint(i)
}
