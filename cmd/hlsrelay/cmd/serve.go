package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server without an initial session",
	Long: `Run the HLS delivery server and session registry with no session
started yet. This command creates no sessions; "hlsrelay start" runs its
own server and session registry in its own process.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	mgr, err := newManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	server := newServer(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting hlsrelay server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
	)
	return server.ListenAndServe(ctx)
}
