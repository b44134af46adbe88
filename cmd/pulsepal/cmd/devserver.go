package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsepal/pulsepal/internal/devserver"
)

var devserverAddr string

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local stub backend for development",
	Long: `Run a local stub backend serving the chat websocket, the monitor
websocket with synthetic readings, the history endpoint and the discovery
health check. Useful for developing against without the real services.`,
	RunE: devserverHandler,
}

func devserverHandler(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := devserver.New()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(devserverAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("dev server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	rootCmd.AddCommand(devserverCmd)

	devserverCmd.Flags().StringVarP(&devserverAddr, "addr", "a", ":8000", "Address to listen on")
}
