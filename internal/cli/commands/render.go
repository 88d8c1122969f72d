package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/spf13/cobra"
)

// RenderOutput is the JSON output of the render command.
type RenderOutput struct {
	Model     string `json:"model"`
	Query     string `json:"query"`
	Rendered  string `json:"rendered"`
	Optimized string `json:"optimized,omitempty"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand() *cobra.Command {
	var env string
	var raw bool

	cmd := &cobra.Command{
		Use:   "render <model>",
		Short: "Render a model's query with templates expanded",
		Long: `Render the query of a model with all templates and macros expanded and,
once schemas are known, wildcard projections replaced by column lists.

This is the text the model's fingerprint is computed from.`,
		Example: `  # Render a model's query
  leapmesh render sushi.orders

  # Render with templates evaluated for a dev environment
  leapmesh render sushi.orders --env dev

  # Show the query after templating only
  leapmesh render sushi.orders --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			project, err := c.Load(cmd.Context(), c.NewLoader(), env, raw)
			if err != nil {
				return err
			}
			m, ok := project.Models.Get(args[0])
			if !ok {
				return fmt.Errorf("model not found: %s", args[0])
			}

			if c.Renderer.JSONMode() {
				return c.Renderer.JSON(RenderOutput{
					Model:     m.Name,
					Query:     m.Query,
					Rendered:  m.RenderedQuery,
					Optimized: m.OptimizedQuery,
				})
			}
			c.Renderer.Println(m.Render())
			return nil
		},
	}

	cmd.Flags().StringVar(&env, "env", core.DefaultEnvironment, "Environment exposed to templates")
	cmd.Flags().BoolVar(&raw, "raw", false, "Skip schema propagation and print the templated query")
	return cmd
}
