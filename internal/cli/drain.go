package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offlinesync/internal/queue"
)

// AttemptOutput is one replayed operation in drain output.
type AttemptOutput struct {
	OperationID   string     `json:"op_id"`
	Method        string     `json:"method"`
	URL           string     `json:"url"`
	Try           int        `json:"try"`
	Status        int        `json:"status,omitempty"`
	Result        string     `json:"result"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// DrainOutput summarizes one drain pass.
type DrainOutput struct {
	Attempts  []AttemptOutput `json:"attempts"`
	Delivered int             `json:"delivered"`
	Failed    int             `json:"failed"`
	Dead      int             `json:"dead"`
	Deferred  int             `json:"deferred"`
	Remaining int             `json:"remaining"`
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay every due operation once",
		Long: `Run one drain pass: every operation whose next attempt is due is
replayed in enqueue order. Failures are rescheduled with backoff.

Exit codes:
  0 - pass completed (even if some attempts failed)
  2 - command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.queue.Drain(cmd.Context(), a.client)
			if err != nil {
				return WrapExitError(ExitFailure, "drain failed", err)
			}
			out := drainOutput(res, a.queue.Size())
			return rootOpts.formatter(cmd).Emit(out, func(w io.Writer) {
				for _, at := range out.Attempts {
					line := fmt.Sprintf("%-8s %s %s %s (try %d", at.Result, at.OperationID, at.Method, at.URL, at.Try)
					if at.Status != 0 {
						line += fmt.Sprintf(", status %d", at.Status)
					}
					if at.NextAttemptAt != nil {
						line += ", next " + at.NextAttemptAt.Format(time.RFC3339)
					}
					fmt.Fprintln(w, line+")")
				}
				fmt.Fprintf(w, "delivered %d, failed %d, dead %d, deferred %d, %d remaining\n",
					out.Delivered, out.Failed, out.Dead, out.Deferred, out.Remaining)
			})
		},
	}
}

func drainOutput(res queue.DrainResult, remaining int) DrainOutput {
	out := DrainOutput{
		Attempts:  make([]AttemptOutput, 0, len(res.Attempts)),
		Delivered: res.Delivered,
		Failed:    res.Failed,
		Dead:      res.Dead,
		Deferred:  res.Deferred,
		Remaining: remaining,
	}
	for _, a := range res.Attempts {
		ao := AttemptOutput{
			OperationID: a.OperationID,
			Method:      string(a.Method),
			URL:         a.URL,
			Try:         a.Try,
			Status:      a.Status,
			Result:      a.Result,
		}
		if a.Result == queue.ResultRetry {
			next := a.NextAttemptAt
			ao.NextAttemptAt = &next
		}
		if a.Err != nil {
			ao.Error = a.Err.Error()
		}
		out.Attempts = append(out.Attempts, ao)
	}
	return out
}
