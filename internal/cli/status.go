package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offlinesync/internal/model"
)

// StatusOutput is the status command payload.
type StatusOutput struct {
	Backend        string     `json:"backend"`
	QueueDepth     int        `json:"queue_depth"`
	Dead           int        `json:"dead"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	PendingChanges int        `json:"pending_changes"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, pending changes and last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := StatusOutput{Backend: a.store.Backend(), QueueDepth: a.queue.Size()}
			for _, op := range a.queue.Operations() {
				if op.State == model.StateDead {
					out.Dead++
				}
			}
			if next, ok := a.queue.NextAttemptAt(); ok {
				out.NextAttemptAt = &next
			}
			if out.PendingChanges, err = a.changes.PendingCount(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "failed to count changes", err)
			}
			if out.LastSyncAt, err = a.changes.LastSyncAt(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "failed to read sync bookkeeping", err)
			}

			return rootOpts.formatter(cmd).Emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "store:           %s\n", out.Backend)
				fmt.Fprintf(w, "queued writes:   %d (%d dead)\n", out.QueueDepth, out.Dead)
				if out.NextAttemptAt != nil {
					fmt.Fprintf(w, "next attempt:    %s\n", out.NextAttemptAt.Format(time.RFC3339))
				}
				fmt.Fprintf(w, "pending changes: %d\n", out.PendingChanges)
				if out.LastSyncAt != nil {
					fmt.Fprintf(w, "last sync:       %s\n", out.LastSyncAt.Format(time.RFC3339))
				} else {
					fmt.Fprintln(w, "last sync:       never")
				}
			})
		},
	}
}
