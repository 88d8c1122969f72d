package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapmesh/internal/loader"
	"github.com/leapstack-labs/leapmesh/internal/macro"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/spf13/cobra"
)

// ModelSummary is one row of the load output.
type ModelSummary struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Path         string   `json:"path,omitempty"`
	Columns      []string `json:"columns"`
	Dependencies []string `json:"dependencies"`
}

// LoadOutput is the JSON output of the load command.
type LoadOutput struct {
	ProjectDir string            `json:"project_dir"`
	Models     []ModelSummary    `json:"models"`
	Audits     []string          `json:"audits"`
	Metrics    []string          `json:"metrics"`
	Macros     []macro.Signature `json:"macros"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand() *cobra.Command {
	var skipSchema bool
	var env string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load and validate the project",
		Long: `Discover and parse every model, audit, metric and macro of the project,
build the dependency graph and propagate column schemas through it.

Any definition error aborts the load and is reported with its file path.`,
		Example: `  # Load the project in the current directory
  leapmesh load

  # Skip schema propagation
  leapmesh load --skip-schema

  # Output as JSON
  leapmesh load --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			project, err := c.Load(cmd.Context(), c.NewLoader(), env, skipSchema)
			if err != nil {
				return err
			}

			out := summarize(c.Settings.ProjectDir, project)
			if c.Renderer.JSONMode() {
				return c.Renderer.JSON(out)
			}
			loadText(c, out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipSchema, "skip-schema", false, "Skip schema propagation")
	cmd.Flags().StringVar(&env, "env", core.DefaultEnvironment, "Environment exposed to templates")
	return cmd
}

func summarize(root string, project *loader.LoadedProject) LoadOutput {
	out := LoadOutput{
		ProjectDir: root,
		Models:     make([]ModelSummary, 0, project.Models.Len()),
		Audits:     orEmpty(project.Audits.Keys()),
		Metrics:    orEmpty(project.Metrics.Keys()),
		Macros:     project.Macros.Signatures(),
	}
	if out.Macros == nil {
		out.Macros = []macro.Signature{}
	}
	for _, m := range project.Models.Values() {
		out.Models = append(out.Models, ModelSummary{
			Name:         m.Name,
			Kind:         m.Kind.String(),
			Path:         m.Path,
			Columns:      orEmpty(m.ColumnsToTypes().Names()),
			Dependencies: orEmpty(m.Dependencies()),
		})
	}
	return out
}

func loadText(c *CommandContext, out LoadOutput) {
	r := c.Renderer
	r.Header("Project")
	r.KeyValue("Root", out.ProjectDir)
	r.KeyValue("Models", strconv.Itoa(len(out.Models)))
	r.KeyValue("Audits", strconv.Itoa(len(out.Audits)))
	r.KeyValue("Metrics", strconv.Itoa(len(out.Metrics)))
	r.KeyValue("Macros", strconv.Itoa(len(out.Macros)))
	r.Println("")

	rows := make([][]string, 0, len(out.Models))
	for _, m := range out.Models {
		rows = append(rows, []string{
			m.Name,
			m.Kind,
			columnCount(m.Columns),
			strings.Join(m.Dependencies, ", "),
		})
	}
	r.Table([]string{"Model", "Kind", "Columns", "Depends On"}, rows)

	if len(out.Macros) == 0 {
		return
	}
	r.Println("")
	macros := make([][]string, 0, len(out.Macros))
	for _, m := range out.Macros {
		macros = append(macros, []string{m.String(), m.Path, m.Doc})
	}
	r.Table([]string{"Macro", "Path", "Doc"}, macros)
}

func columnCount(cols []string) string {
	if len(cols) == 0 {
		return "?"
	}
	return fmt.Sprintf("%d", len(cols))
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
