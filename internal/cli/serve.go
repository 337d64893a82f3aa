package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/decipher/internal/layout"
	"github.com/ppiankov/decipher/internal/server"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the library, concept graph, layout and explanations over HTTP",
	Long: `Serve starts the HTTP API:
- POST /api/batches to ingest documents in the background
- /api/library, /api/graph and /api/layout to browse the results
- /api/explain to resolve selected terms
- /metrics for Prometheus, /healthz for liveness

Example:
  decipher serve
  decipher serve --addr 127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	runner := layout.NewRunner(layout.NewEngine(layout.ParamsFromConfig(a.cfg.Layout)),
		a.cfg.Layout.TickInterval, a.metrics, a.log)
	res := a.newResolver()
	defer res.Close()

	srv := server.New(ctx, server.Deps{
		Pipeline:       a.pipeline,
		Library:        a.library,
		Graph:          a.graph,
		Layout:         runner,
		Resolver:       res,
		Metrics:        a.metrics,
		Logger:         a.log,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	})
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runner.Start(ctx)

	fmt.Fprintf(os.Stderr, "Decipher listening on %s (LLM: %s)\n", addr, a.service.ProviderName())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down", "timeout", a.cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		runner.Stop()
		// ctx is done, so a running batch stops after its current document
		srv.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Decipher stopped\n")
	return nil
}
