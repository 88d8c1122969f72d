package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/internal/dag"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/spf13/cobra"
)

// GraphQuerier provides read-only access to DAG structure.
type GraphQuerier interface {
	Parents(id string) []string
	Children(id string) []string
	Len() int
	EdgeCount() int
}

// DAGNode is one model in the dag output.
type DAGNode struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on"`
	UsedBy    []string `json:"used_by"`
}

// DAGLevel groups models that only depend on earlier levels.
type DAGLevel struct {
	Level  int       `json:"level"`
	Models []DAGNode `json:"models"`
}

// DAGOutput is the JSON output of the dag command.
type DAGOutput struct {
	Levels      []DAGLevel `json:"levels"`
	TotalModels int        `json:"total_models"`
	TotalEdges  int        `json:"total_edges"`
}

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the dependency graph",
		Long: `Display the dependency graph (DAG) of all models.

Models are grouped by level: every model depends only on models of earlier
levels. External models appear at level 0.`,
		Example: `  # Show the DAG
  leapmesh dag

  # Output as JSON
  leapmesh dag --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDAG(cmd)
		},
	}

	return cmd
}

func runDAG(cmd *cobra.Command) error {
	c, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	// columns are not needed for the graph
	project, err := c.Load(cmd.Context(), c.NewLoader(), core.DefaultEnvironment, true)
	if err != nil {
		return err
	}

	levels, err := project.Graph.Levels()
	if err != nil {
		return fmt.Errorf("failed to get levels: %w", err)
	}

	if c.Renderer.JSONMode() {
		return c.Renderer.JSON(dagOutput(project.Graph, levels))
	}
	dagText(c.Renderer, project.Graph, levels)
	return nil
}

// dagText outputs DAG in styled text format.
func dagText(r *output.Renderer, graph GraphQuerier, levels [][]string) {
	styles := r.Styles()

	r.Header("Dependency Graph")
	for i, level := range levels {
		r.Println(styles.Header.Render(fmt.Sprintf("Level %d:", i)))
		for _, model := range level {
			r.Printf("  %s\n", styles.Name.Render(model))
			if deps := graph.Parents(model); len(deps) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(deps, ", "))
			}
			if children := graph.Children(model); len(children) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("used by:"), strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d models, %d dependencies", graph.Len(), graph.EdgeCount())))
}

func dagOutput(graph GraphQuerier, levels [][]string) DAGOutput {
	out := DAGOutput{
		Levels:      make([]DAGLevel, 0, len(levels)),
		TotalModels: graph.Len(),
		TotalEdges:  graph.EdgeCount(),
	}
	for i, level := range levels {
		l := DAGLevel{Level: i, Models: make([]DAGNode, 0, len(level))}
		for _, model := range level {
			l.Models = append(l.Models, DAGNode{
				Name:      model,
				DependsOn: orEmpty(graph.Parents(model)),
				UsedBy:    orEmpty(graph.Children(model)),
			})
		}
		out.Levels = append(out.Levels, l)
	}
	return out
}

var _ GraphQuerier = (*dag.Graph)(nil)
