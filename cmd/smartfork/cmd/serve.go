package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recursive-vibe/smart-fork/internal/output"
	"github.com/recursive-vibe/smart-fork/internal/server"
	"github.com/recursive-vibe/smart-fork/pkg/version"
)

func newServeCmd() *cobra.Command {
	var (
		httpOnly bool
		port     int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose search over an MCP stdio tool and a loopback HTTP endpoint",
		Long: `serve runs the two external-facing transports over the same
search(query, top_n?, project?) operation: an MCP stdio tool for
coding-assistant hosts, and a loopback HTTP endpoint for local tooling.`,
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if port == 0 {
				port = cfg.Server.Port
			}

			w := output.New(c.OutOrStdout())
			httpSrv := server.NewHTTPServer(a.orch, port)
			errCh := make(chan error, 1)
			go func() { errCh <- httpSrv.ListenAndServe(ctx) }()

			addrCh := make(chan string, 1)
			go func() { addrCh <- httpSrv.Addr() }()
			select {
			case err := <-errCh:
				return err
			case addr := <-addrCh:
				w.Statusf("→", "http endpoint listening on %s", addr)
			}

			if httpOnly {
				<-ctx.Done()
				return <-errCh
			}

			mcpSrv := server.NewMCPServer(a.orch, "smartfork", version.Version)
			go func() {
				if err := mcpSrv.Serve(ctx); err != nil {
					w.Warningf("mcp transport stopped: %v", err)
				}
			}()

			<-ctx.Done()
			return <-errCh
		},
	}

	cmd.Flags().BoolVar(&httpOnly, "http-only", false, "skip the MCP stdio transport")
	cmd.Flags().IntVar(&port, "port", 0, "loopback HTTP port (defaults to config's server.port)")
	return cmd
}
