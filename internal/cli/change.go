package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offlinesync/internal/model"
)

// ChangeOutput is one pending change as shown by change list.
type ChangeOutput struct {
	ID         int64           `json:"id"`
	ResourceID string          `json:"resource_id"`
	Payload    json.RawMessage `json:"payload"`
	TS         time.Time       `json:"ts"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

func changeOutput(c model.PendingChange) ChangeOutput {
	return ChangeOutput{ID: c.ID, ResourceID: c.ResourceID, Payload: c.Payload, TS: c.TS, SyncedAt: c.SyncedAt}
}

// NewChangeCommand creates the change command group.
func NewChangeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "change",
		Short: "Record and list domain changes awaiting sync",
	}
	cmd.AddCommand(newChangeAddCommand(rootOpts))
	cmd.AddCommand(newChangeListCommand(rootOpts))
	return cmd
}

func newChangeAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <resource-id> [json-payload]",
		Short: "Record a change for the next sync round",
		Long: `Record a change against a resource. The payload must be valid JSON and
defaults to null.

Examples:
  offlinesync change add job-7 '{"status":"approved"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload any
			if len(args) == 2 {
				payload = json.RawMessage(args[1])
			}

			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			ch, err := a.changes.QueueChange(cmd.Context(), args[0], payload)
			if err != nil {
				return WrapExitError(ExitCommandError, "change rejected", err)
			}
			return rootOpts.formatter(cmd).Emit(changeOutput(ch), func(w io.Writer) {
				fmt.Fprintf(w, "recorded change %d for %s\n", ch.ID, ch.ResourceID)
			})
		},
	}
}

func newChangeListCommand(rootOpts *RootOptions) *cobra.Command {
	var pendingOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			all, err := a.changes.Changes(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list changes", err)
			}
			out := make([]ChangeOutput, 0, len(all))
			for _, c := range all {
				if pendingOnly && !c.Pending() {
					continue
				}
				out = append(out, changeOutput(c))
			}
			return rootOpts.formatter(cmd).Emit(out, func(w io.Writer) {
				if len(out) == 0 {
					fmt.Fprintln(w, "No changes.")
					return
				}
				for _, c := range out {
					state := "pending"
					if c.SyncedAt != nil {
						state = "synced " + c.SyncedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%4d  %-20s %s  %s\n", c.ID, c.ResourceID, state, c.Payload)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "only changes not yet synced")
	return cmd
}
