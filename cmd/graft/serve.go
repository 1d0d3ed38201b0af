package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/graft"
	"github.com/aretw0/graft/internal/adapters/httpapi"
	"github.com/aretw0/graft/internal/presentation/tui"
	"github.com/aretw0/graft/pkg/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only inspection API",
	Long: `Serves manifests, aliases, and lineage queries over HTTP, plus Prometheus
metrics on /metrics. The API never mutates the store; runs happen through
the CLI or the library.`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")

		registry := prometheus.NewRegistry()
		metrics := observability.NewMetrics(registry)

		eng, err := graft.New(storePath(cmd),
			graft.WithLogger(newLogger(cmd)),
			graft.WithMetrics(metrics),
		)
		if err != nil {
			fail(err)
		}
		defer eng.Close()

		handler, err := httpapi.NewHandler(httpapi.Config{
			Store:    eng.Store(),
			Aliases:  eng.Aliases(),
			Lineage:  eng.Lineage(),
			Logger:   newLogger(cmd),
			Gatherer: registry,
			Version:  strings.TrimSpace(graft.Version),
		})
		if err != nil {
			fail(err)
		}

		if term.IsTerminal(int(os.Stdout.Fd())) {
			tui.PrintBanner(strings.TrimSpace(graft.Version))
		}

		srv := &http.Server{
			Addr:    addr,
			Handler: handler,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			fmt.Printf("Serving graft store %s on %s\n", eng.StoreDir(), srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			fmt.Printf("\nStart shutdown... Signal: %v\n", sig)

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
				if err := srv.Close(); err != nil {
					fmt.Printf("Error killing server: %v\n", err)
				}
			}
			fmt.Println("Server stopped gracefully")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
}
