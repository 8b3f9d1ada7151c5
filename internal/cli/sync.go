package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offlinesync/internal/changesync"
)

// SyncOutput reports one sync round.
type SyncOutput struct {
	Outcome  string     `json:"outcome"`
	Source   string     `json:"source"`
	Synced   int        `json:"synced"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
	Error    string     `json:"error,omitempty"`
}

func syncOutput(res changesync.SyncResult) SyncOutput {
	out := SyncOutput{
		Outcome:  string(res.Outcome),
		Source:   string(res.Source),
		Synced:   res.Synced,
		SyncedAt: res.SyncedAt,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one change sync round now",
		Long: `Send every pending change to remote.base_url + remote.sync_path and mark
them synced when the remote accepts the batch.

Exit codes:
  0 - round succeeded (or nothing was pending)
  1 - round failed; changes stay pending
  2 - command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.changes.RunSyncNow(cmd.Context(), changesync.SourceManual)
			out := syncOutput(res)
			if err := rootOpts.formatter(cmd).Emit(out, func(w io.Writer) {
				switch res.Outcome {
				case changesync.Succeeded:
					fmt.Fprintf(w, "synced %d change(s)\n", res.Synced)
				default:
					fmt.Fprintf(w, "sync %s: %s\n", res.Outcome, out.Error)
				}
			}); err != nil {
				return err
			}
			if res.Outcome != changesync.Succeeded {
				return WrapExitError(ExitFailure, "sync round "+string(res.Outcome), res.Err)
			}
			return nil
		},
	}
}
