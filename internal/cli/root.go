// Package cli provides the command-line interface for LeapMesh.
package cli

import (
	"fmt"
	"os"

	"github.com/leapstack-labs/leapmesh/internal/cli/commands"
	"github.com/leapstack-labs/leapmesh/internal/cli/config"
	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leapmesh",
		Short: "LeapMesh - versioned SQL models and environments",
		Long: `LeapMesh loads a project of SQL and Starlark model definitions, fingerprints
every model, and plans the snapshots and environments that keep a scheduler's
tables in step with the code.

Plans are built against a local state store or a remote scheduler and applied
by submitting them over HTTP.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			settings, err := config.Load(cmd.Root().PersistentFlags(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			settings.Logger.Debug("configuration loaded",
				"project_dir", settings.ProjectDir,
				"config_files", settings.ConfigFiles)

			cmd.SetContext(config.WithSettings(cmd.Context(), settings))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	flags := rootCmd.PersistentFlags()
	flags.StringP(config.FlagProjectDir, "p", "", "Project directory (default: nearest directory with leapmesh.yaml)")
	flags.StringP(config.FlagOutput, "o", "", "Output format (text|json)")
	flags.StringP("gateway", "g", "", "Gateway whose variables are exposed to templates")
	flags.String("log-level", "", "Log level (debug|info|warn|error)")
	flags.String("log-format", "", "Log format (text|json)")
	flags.String("scheduler-url", "", "Scheduler base URL")
	flags.String("state-path", "", "Path to the local state database")
	flags.Bool("cache-disabled", false, "Disable the definition cache")

	_ = rootCmd.RegisterFlagCompletionFunc(config.FlagOutput, func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(commands.NewLoadCommand())
	rootCmd.AddCommand(commands.NewDAGCommand())
	rootCmd.AddCommand(commands.NewLineageCommand())
	rootCmd.AddCommand(commands.NewRenderCommand())
	rootCmd.AddCommand(commands.NewPlanCommand())
	rootCmd.AddCommand(commands.NewEnvironmentCommand())
	rootCmd.AddCommand(commands.NewSnapshotsCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewWatchCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for LeapMesh.

To load completions:

Bash:
  $ source <(leapmesh completion bash)

Zsh:
  $ leapmesh completion zsh > "${fpath[1]}/_leapmesh"

Fish:
  $ leapmesh completion fish | source

PowerShell:
  PS> leapmesh completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
