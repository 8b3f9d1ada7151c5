package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offlinesync/internal/model"
	"github.com/roach88/offlinesync/internal/queue"
)

// OperationOutput is one queued operation as shown by ops list.
type OperationOutput struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"seq"`
	Method        string    `json:"method"`
	URL           string    `json:"url"`
	State         string    `json:"state"`
	Tries         int       `json:"tries"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	LastStatus    int       `json:"last_status,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

func operationOutput(op model.Operation) OperationOutput {
	return OperationOutput{
		ID:            op.ID,
		Seq:           op.Seq,
		Method:        string(op.Method),
		URL:           op.URL,
		State:         string(op.State),
		Tries:         op.Tries,
		NextAttemptAt: op.NextAttemptAt,
		EnqueuedAt:    op.EnqueuedAt,
		LastStatus:    op.LastStatus,
		LastError:     op.LastError,
	}
}

// NewOpsCommand creates the ops command group.
func NewOpsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Inspect and manage queued operations",
	}
	cmd.AddCommand(newOpsListCommand(rootOpts))
	cmd.AddCommand(newOpsPurgeCommand(rootOpts))
	cmd.AddCommand(newOpsReviveCommand(rootOpts))
	return cmd
}

func newOpsListCommand(rootOpts *RootOptions) *cobra.Command {
	var deadOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			ops := make([]OperationOutput, 0, a.queue.Size())
			for _, op := range a.queue.Operations() {
				if deadOnly && op.State != model.StateDead {
					continue
				}
				ops = append(ops, operationOutput(op))
			}
			return rootOpts.formatter(cmd).Emit(ops, func(w io.Writer) {
				if len(ops) == 0 {
					fmt.Fprintln(w, "No queued operations.")
					return
				}
				for _, op := range ops {
					fmt.Fprintf(w, "%s  %-6s %-6s %s  tries=%d next=%s\n",
						op.ID, op.State, op.Method, op.URL, op.Tries, op.NextAttemptAt.Format(time.RFC3339))
					if op.LastError != "" {
						fmt.Fprintf(w, "    last error: %s\n", op.LastError)
					}
				}
			})
		},
	}
	cmd.Flags().BoolVar(&deadOnly, "dead", false, "only dead-lettered operations")
	return cmd
}

func newOpsPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <id>",
		Short: "Remove an operation without delivering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.queue.Purge(cmd.Context(), args[0]); err != nil {
				return opError(err)
			}
			return rootOpts.formatter(cmd).Emit(map[string]string{"purged": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "purged %s\n", args[0])
			})
		},
	}
}

func newOpsReviveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revive <id>",
		Short: "Return a dead-lettered operation to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			op, err := a.queue.Revive(cmd.Context(), args[0])
			if err != nil {
				return opError(err)
			}
			return rootOpts.formatter(cmd).Emit(operationOutput(op), func(w io.Writer) {
				fmt.Fprintf(w, "revived %s, due now\n", op.ID)
			})
		},
	}
}

func opError(err error) error {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return WrapExitError(ExitFailure, "no such operation", err)
	case errors.Is(err, queue.ErrNotDead):
		return WrapExitError(ExitFailure, "operation is not dead-lettered", err)
	}
	return WrapExitError(ExitFailure, "operation failed", err)
}
