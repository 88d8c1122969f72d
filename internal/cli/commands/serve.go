package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/leapmesh/internal/devserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Addr     string
	Username string
	Password string
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a development scheduler over the local state store",
		Long: `Serve the scheduler HTTP protocol over the local state store. Applied plans
are recorded and their runs reported as successful; no warehouse work is
executed. Point scheduler.url at this server to exercise --remote commands
locally.

Metrics are served on /metrics.`,
		Example: `  # Serve on the default port
  leapmesh serve

  # Serve with basic auth
  leapmesh serve --addr 127.0.0.1:9090 --username admin --password secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&opts.Username, "username", "", "Basic auth username (default scheduler.username)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "Basic auth password (default scheduler.password)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	store, err := c.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	username, password := opts.Username, opts.Password
	if username == "" {
		username = c.Settings.Project.Scheduler.Username
		password = c.Settings.Project.Scheduler.Password
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := devserver.NewServer(devserver.Config{
		Store:    store,
		Addr:     opts.Addr,
		Username: username,
		Password: password,
		Logger:   c.Logger,
		Registry: reg,
	})
	if err != nil {
		return err
	}

	c.Renderer.Success("Serving " + store.Path() + " on " + opts.Addr)
	return srv.Serve(ctx)
}
