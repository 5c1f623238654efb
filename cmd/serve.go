package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/sortpool/internal/history"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the worker pool over HTTP and websocket",
	Long: `Serve keeps one worker pool alive and exposes it over HTTP:

  GET  /api/algorithms            list registered algorithms
  GET  /api/status                current snapshot with a status summary
  POST /api/runs                  submit a batch (task-file schema, YAML or JSON)
  GET  /api/runs[/{id}]           past and current runs
  POST /api/workers/{id}/terminate
  GET  /ws                        live snapshot stream

Terminated workers, whether stopped through the API or by the task timeout,
stay retired until the server restarts. /api/status reports the remaining
capacity.

Example:
  sortpool serve                   # listen on server.addr (default localhost:18080)
  sortpool serve --addr :9000 -w 8`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "address to listen on (overrides server.addr)")
	serveCmd.Flags().Duration("timeout", 0, "terminate tasks still running after this long (overrides run.timeout)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("run.timeout", serveCmd.Flags().Lookup("timeout"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	provider, stopTracing, err := startTracing()
	if err != nil {
		return err
	}
	defer stopTracing()

	p := newPool(provider.Tracer())
	defer p.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{
		Engine:      p,
		History:     history.NewInMemory(cfg.History.TTL),
		TaskTimeout: cfg.Run.Timeout,
	})

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sortpool serving %d workers on http://%s\n", p.Size(), ln.Addr())
	fmt.Fprintln(out, "Press Ctrl+C to stop")
	log.Info(log.CatServer, "Serving", "addr", ln.Addr().String(), "workers", p.Size())

	if err := srv.Serve(ctx, ln); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	fmt.Fprintln(out, "Server stopped")
	return nil
}
