package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ghxstship/orangeseadragon-sub009/internal/diagram"
)

func newDiagramCmd(_ *app) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "diagram <file>",
		Short: "Render a workflow file as Mermaid, ASCII, PNG or SVG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadWorkflowFile(args[0])
			if err != nil {
				return err
			}
			model, err := diagram.Build(def, nil)
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "mermaid":
				data = []byte(diagram.RenderMermaid(model) + "\n")
			case "ascii":
				data = []byte(diagram.RenderASCII(model))
			case "png", "svg":
				if out == "" && format == "png" {
					return fmt.Errorf("png output needs --out")
				}
				data, err = diagram.RenderImage(cmd.Context(), model, diagram.ImageFormat(format))
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q (want mermaid, ascii, png or svg)", format)
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "mermaid", "output format: mermaid, ascii, png or svg")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}
