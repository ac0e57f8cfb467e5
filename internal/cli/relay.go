package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/patientdb/internal/broadcast/wsrelay"
)

// shutdownTimeout bounds graceful shutdown of the relay's HTTP server.
const shutdownTimeout = 5 * time.Second

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the WebSocket relay for the ws medium",
		Long: `Run a WebSocket relay. Replicas started with --medium ws connect to
/ws; every frame a replica sends is forwarded to every other connected
replica. /healthz reports liveness and /metrics exposes Prometheus metrics.

Example:
  patientdb relay --addr :8089`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(rootOpts, cmd)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default :8089)")
	_ = rootOpts.viper.BindPFlag("relay.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runRelay(opts *RootOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", opts.Config.Relay.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	relay := wsrelay.NewRelay(wsrelay.WithRelayLogger(opts.Logger))
	srv := &http.Server{
		Handler:           relay.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	opts.Logger.Info("relay listening", "addr", ln.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s\n", ln.Addr())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "relay server error", err)
		}
	}

	// Hijacked WebSocket connections are not tracked by the server.
	relay.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		opts.Logger.Error("relay shutdown", "error", err)
	}

	opts.Logger.Info("relay stopped gracefully")
	return nil
}
