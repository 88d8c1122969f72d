package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/spf13/cobra"
)

// LineageOptions holds options for the lineage command.
type LineageOptions struct {
	Upstream   bool
	Downstream bool
}

// LineageOutput is the JSON output of the lineage command.
type LineageOutput struct {
	Model      string   `json:"model"`
	Upstream   []string `json:"upstream,omitempty"`
	Downstream []string `json:"downstream,omitempty"`
}

// NewLineageCommand creates the lineage command.
func NewLineageCommand() *cobra.Command {
	opts := &LineageOptions{}

	cmd := &cobra.Command{
		Use:   "lineage <model>",
		Short: "Show lineage for a model",
		Long: `Display every model a model transitively depends on and every model that
transitively depends on it. A breaking change to the model affects its whole
downstream.`,
		Example: `  # Show full lineage for a model
  leapmesh lineage sushi.orders

  # Show only downstream dependents
  leapmesh lineage sushi.orders --upstream=false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Upstream, "upstream", true, "Include upstream dependencies")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", true, "Include downstream dependents")

	return cmd
}

func runLineage(cmd *cobra.Command, model string, opts *LineageOptions) error {
	c, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	project, err := c.Load(cmd.Context(), c.NewLoader(), core.DefaultEnvironment, true)
	if err != nil {
		return err
	}
	if _, ok := project.Graph.Node(model); !ok {
		return fmt.Errorf("model not found: %s", model)
	}

	out := LineageOutput{Model: model}
	if opts.Upstream {
		out.Upstream = project.Graph.Upstream(model)
	}
	if opts.Downstream {
		// Downstream includes the model itself
		for _, name := range project.Graph.Downstream(model) {
			if name != model {
				out.Downstream = append(out.Downstream, name)
			}
		}
	}

	if c.Renderer.JSONMode() {
		return c.Renderer.JSON(out)
	}

	r := c.Renderer
	styles := r.Styles()
	r.Header("Lineage: " + model)
	if opts.Upstream {
		r.Printf("  %s %s\n", styles.Muted.Render("upstream:  "), joinOrNone(out.Upstream))
	}
	if opts.Downstream {
		r.Printf("  %s %s\n", styles.Muted.Render("downstream:"), joinOrNone(out.Downstream))
	}
	return nil
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
