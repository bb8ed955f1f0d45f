package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pscheid92/tablepulse/internal/apiclient"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/pscheid92/tablepulse/internal/schedule"
	"github.com/spf13/cobra"
)

// errRejected marks a placement the grid refused; the command already printed why.
var errRejected = errors.New("placement rejected")

func newGridCommand(opts *options) *cobra.Command {
	gridCmd := &cobra.Command{Use: "grid", Short: "Check and apply table moves"}

	gridCmd.AddCommand(
		newGridCheckCommand(),
		newGridShowCommand(opts),
		newGridMoveCommand(opts),
		newGridShiftCommand(opts),
		newGridCancelCommand(opts),
	)
	return gridCmd
}

// newGridCheckCommand validates a move against a local layout file without
// talking to a server.
func newGridCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check LAYOUT.yaml",
		Short: "Validate a move against a layout file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guest, _ := cmd.Flags().GetString("reservation")
			tableRef, _ := cmd.Flags().GetString("table")
			at, _ := cmd.Flags().GetString("at")

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			sched, err := parseLayout(f)
			if err != nil {
				return err
			}
			return checkMove(cmd.OutOrStdout(), sched, guest, tableRef, at)
		},
	}
	cmd.Flags().String("reservation", "", "Guest name or reservation id")
	cmd.Flags().String("table", "", "Target table name or id")
	cmd.Flags().String("at", "", "Target start time (HH:MM)")
	_ = cmd.MarkFlagRequired("reservation")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

// checkMove drags the reservation onto the target cell the way the grid UI
// does and reports the verdict.
func checkMove(w io.Writer, sched domain.Schedule, reservationRef, tableRef, at string) error {
	grid, err := newGrid(sched)
	if err != nil {
		return err
	}
	res, err := resolveReservation(sched, reservationRef)
	if err != nil {
		return err
	}
	target, err := resolveCell(sched, tableRef, at)
	if err != nil {
		return err
	}

	engine := schedule.NewEngine(grid, schedule.EngineConfig{})
	if _, err := engine.BeginDrag(res.ID); err != nil {
		return reportConflict(w, err)
	}
	defer engine.CancelDrag()

	if err := engine.Hover(target); err != nil {
		return reportConflict(w, err)
	}
	_, _ = fmt.Fprintf(w, "ok: %s fits at %s\n", guestOf(res), grid.Describe(target))
	return nil
}

func newGridShowCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the authoritative grid for a date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			date, _ := cmd.Flags().GetString("date")
			api, err := opts.apiClient()
			if err != nil {
				return err
			}
			sched, err := api.FetchSchedule(cmd.Context(), date)
			if err != nil {
				return err
			}
			return renderSchedule(cmd.OutOrStdout(), *sched)
		},
	}
	cmd.Flags().String("date", "", "Schedule date (YYYY-MM-DD, default today on the server)")
	return cmd
}

func newGridMoveCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move a reservation to another table or time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			date, _ := cmd.Flags().GetString("date")
			resRef, _ := cmd.Flags().GetString("reservation")
			tableRef, _ := cmd.Flags().GetString("table")
			at, _ := cmd.Flags().GetString("at")

			return withEngine(cmd, opts, date, func(ctx context.Context, e *schedule.Engine, sched domain.Schedule) error {
				res, err := resolveReservation(sched, resRef)
				if err != nil {
					return err
				}
				target, err := resolveCell(sched, tableRef, at)
				if err != nil {
					return err
				}
				return e.Move(ctx, res.ID, target)
			})
		},
	}
	cmd.Flags().String("date", "", "Schedule date (YYYY-MM-DD, default today on the server)")
	cmd.Flags().String("reservation", "", "Guest name or reservation id")
	cmd.Flags().String("table", "", "Target table name or id")
	cmd.Flags().String("at", "", "Target start time (HH:MM)")
	_ = cmd.MarkFlagRequired("reservation")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func newGridShiftCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shift",
		Short: "Move a reservation one slot earlier or later",
		RunE: func(cmd *cobra.Command, _ []string) error {
			date, _ := cmd.Flags().GetString("date")
			resRef, _ := cmd.Flags().GetString("reservation")
			by, _ := cmd.Flags().GetInt("by")

			return withEngine(cmd, opts, date, func(ctx context.Context, e *schedule.Engine, sched domain.Schedule) error {
				res, err := resolveReservation(sched, resRef)
				if err != nil {
					return err
				}
				return e.Shift(ctx, res.ID, by)
			})
		},
	}
	cmd.Flags().String("date", "", "Schedule date (YYYY-MM-DD, default today on the server)")
	cmd.Flags().String("reservation", "", "Guest name or reservation id")
	cmd.Flags().Int("by", 1, "Slots to shift: -1 or 1")
	_ = cmd.MarkFlagRequired("reservation")
	return cmd
}

func newGridCancelCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a reservation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			date, _ := cmd.Flags().GetString("date")
			resRef, _ := cmd.Flags().GetString("reservation")

			return withEngine(cmd, opts, date, func(ctx context.Context, e *schedule.Engine, sched domain.Schedule) error {
				res, err := resolveReservation(sched, resRef)
				if err != nil {
					return err
				}
				return e.Cancel(ctx, res.ID)
			})
		},
	}
	cmd.Flags().String("date", "", "Schedule date (YYYY-MM-DD, default today on the server)")
	cmd.Flags().String("reservation", "", "Guest name or reservation id")
	_ = cmd.MarkFlagRequired("reservation")
	return cmd
}

// withEngine loads the authoritative grid, hands an engine backed by the API
// to op and prints the resulting notice.
func withEngine(cmd *cobra.Command, opts *options, date string, op func(context.Context, *schedule.Engine, domain.Schedule) error) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	api, err := opts.apiClient()
	if err != nil {
		return err
	}
	sched, err := api.FetchSchedule(ctx, date)
	if err != nil {
		return err
	}
	grid, err := newGrid(*sched)
	if err != nil {
		return err
	}

	var engine *schedule.Engine
	engine = schedule.NewEngine(grid, schedule.EngineConfig{
		Mutator: api,
		Notify: func(n schedule.Notice) {
			_, _ = fmt.Fprintln(out, n.Message)
		},
		Invalidate: func(ctx context.Context) error {
			fresh, err := api.FetchSchedule(ctx, sched.Date)
			if err != nil {
				return err
			}
			g, err := newGrid(*fresh)
			if err != nil {
				return err
			}
			engine.Load(g)
			return nil
		},
	})

	err = op(ctx, engine, *sched)
	if apiclient.IsConflict(err) {
		return fmt.Errorf("the server refused the change because the schedule moved on, run grid show: %w", err)
	}
	return reportConflict(out, err)
}

// reportConflict prints a grid rejection and maps it to errRejected. Other
// errors pass through.
func reportConflict(w io.Writer, err error) error {
	if err == nil {
		return nil
	}
	var conflict *schedule.ConflictError
	if !errors.As(err, &conflict) {
		return err
	}
	msg := "rejected: " + string(conflict.Reason)
	if conflict.Detail != "" {
		msg += " (" + conflict.Detail + ")"
	}
	if conflict.ConflictsWith != uuid.Nil {
		msg += " conflicts with " + conflict.ConflictsWith.String()
	}
	_, _ = fmt.Fprintln(w, msg)
	return errRejected
}

func guestOf(r domain.Reservation) string {
	if r.GuestName != "" {
		return r.GuestName
	}
	return r.ID.String()
}
