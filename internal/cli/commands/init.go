package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapmesh/internal/cli/config"
	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	intconfig "github.com/leapstack-labs/leapmesh/internal/config"
	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new LeapMesh project",
		Long: `Initialize a new LeapMesh project with a leapmesh.yaml and a models/ directory.

Use --example to create a small sushi project with external models, an
incremental model, macros, audits and metrics.`,
		Example: `  # Initialize in current directory
  leapmesh init

  # Initialize a new directory with the example project
  leapmesh init my-project --example

  # Force overwrite existing files
  leapmesh init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			mode := output.ModeText
			if s, ok := config.FromContext(cmd.Context()); ok {
				mode = s.Output
			}
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

			template := "minimal"
			if example {
				template = "example"
			}
			return runInit(r, dir, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	cmd.Flags().BoolVar(&example, "example", false, "Create the example project")

	return cmd
}

// InitOutput is the JSON output of the init command.
type InitOutput struct {
	Directory string              `json:"directory"`
	Files     map[string][]string `json:"files"`
}

func runInit(r *output.Renderer, dir, template string, force bool) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, intconfig.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", intconfig.ConfigFileName)
	}

	if err := copyTemplate(template, dir, force); err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	files, err := listTemplateFiles(template)
	if err != nil {
		return err
	}
	groups := groupTemplateFiles(files)

	if r.JSONMode() {
		return r.JSON(InitOutput{Directory: dir, Files: groups})
	}

	for _, group := range templateGroups {
		if len(groups[group]) == 0 {
			continue
		}
		r.Header(r.Title(group))
		for _, f := range groups[group] {
			r.Printf("  %s %s\n", r.Styles().Success.Render("+"), f)
		}
		r.Println("")
	}

	r.Success("LeapMesh project initialized")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  leapmesh load          Load and validate definitions")
	r.Println("  leapmesh dag           View models and dependencies")
	r.Println("  leapmesh plan --apply  Create the prod environment")
	return nil
}
