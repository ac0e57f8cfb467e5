package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/patientdb/internal/config"
	"github.com/roach88/patientdb/internal/patient"
)

// watchLine is one event in `watch --format json` output.
type watchLine struct {
	Event patient.Kind    `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print events announced by other replicas",
		Long: `Join the configured medium and print every patient event announced by
other replicas until interrupted. With --format json, each event is one
JSON object per line. If the connection to the medium is lost, watch
exits with status 1.

Example:
  patientdb watch --medium redis --redis-url redis://127.0.0.1:6379/0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Config.Medium == config.MediumMemory {
				return NewExitError(ExitCommandError,
					"watch needs a shared medium: use --medium redis or --medium ws")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := rootOpts.openReplica(ctx)
			if err != nil {
				return err
			}
			defer rootOpts.closeReplica(r)

			w := cmd.OutOrStdout()
			var mu sync.Mutex
			for _, kind := range patient.Kinds() {
				r.Events().Subscribe(kind, func(ev patient.Event) error {
					mu.Lock()
					defer mu.Unlock()
					return writeEvent(w, rootOpts.Format, ev)
				})
			}

			rootOpts.Logger.Info("watching", "medium", rootOpts.Config.Medium, "replica", r.ID())
			select {
			case <-ctx.Done():
				rootOpts.Logger.Info("watch stopped")
				return nil
			case <-r.Disconnected():
				// Events missed from here on would never be printed.
				return NewExitError(ExitFailure,
					fmt.Sprintf("lost connection to %s medium", rootOpts.Config.Medium))
			}
		},
	}
}

func writeEvent(w io.Writer, format string, ev patient.Event) error {
	data, err := patient.MarshalPayload(ev)
	if err != nil {
		return err
	}
	if format == "json" {
		return json.NewEncoder(w).Encode(watchLine{Event: ev.Kind(), ID: ev.PatientID(), Data: data})
	}
	_, err = fmt.Fprintf(w, "%s %s %s\n", ev.Kind(), ev.PatientID(), data)
	return err
}
