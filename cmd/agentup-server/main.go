package main

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
	"goa.design/clue/log"

	"github.com/agentup/agentup/internal/app"
	"github.com/agentup/agentup/internal/config"
	"github.com/agentup/agentup/internal/server"

	_ "github.com/agentup/agentup/plugins/calculator"
	_ "github.com/agentup/agentup/plugins/echo"
	_ "github.com/agentup/agentup/plugins/status"
)

func main() {
	var (
		configPath string
		host       string
		port       string
		debug      bool
	)

	root := &cobra.Command{
		Use:   "agentup-server",
		Short: "Run the AgentUp A2A/MCP agent server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, host, port, debug)
		},
	}
	root.Flags().StringVar(&configPath, "config", "agentup.yml", "path to the agent's YAML configuration")
	root.Flags().StringVar(&host, "host", "localhost", "server bind host")
	root.Flags().StringVar(&port, "port", "", "server bind port (8080 if empty)")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(parent context.Context, configPath, host, port string, debug bool) error {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(parent, log.WithFormat(format))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	defer a.Close()

	addr := serverAddr(host, port)
	srv := &http.Server{Addr: addr, Handler: server.New(a), ReadHeaderTimeout: 60 * time.Second}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Printf(ctx, "HTTP server listening on %q", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case <-ctx.Done():
		log.Printf(ctx, "shutting down HTTP server at %q", addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errc:
		return err
	}
}

func serverAddr(host, port string) string {
	if port == "" {
		port = "8080"
	}
	if host == "" {
		host = "localhost"
	}
	return host + ":" + port
}
