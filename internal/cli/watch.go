package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pscheid92/tablepulse/internal/cache"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/pscheid92/tablepulse/internal/stream"
	"github.com/spf13/cobra"
)

var (
	errStreamFailed = errors.New("stream stopped retrying")
	errStreamClosed = errors.New("stream closed by the server")
)

func newWatchCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a date's schedule live",
		RunE: func(cmd *cobra.Command, _ []string) error {
			date, _ := cmd.Flags().GetString("date")
			quiet, _ := cmd.Flags().GetBool("quiet")
			return watch(cmd.Context(), cmd.OutOrStdout(), opts, date, quiet)
		},
	}
	cmd.Flags().String("date", "", "Schedule date (YYYY-MM-DD, default today on the server)")
	cmd.Flags().Bool("quiet", false, "Only print connection health, not the grid")
	return cmd
}

// watch keeps a reconciled copy of the schedule current from stream events
// and prints it after every change until ctx ends or the stream gives up or
// is closed for good.
func watch(ctx context.Context, out io.Writer, opts *options, date string, quiet bool) error {
	api, err := opts.apiClient()
	if err != nil {
		return err
	}
	streamURL, err := stream.URLFromPage(opts.server)
	if err != nil {
		return err
	}

	var outMu sync.Mutex
	emit := func(fn func(io.Writer)) {
		outMu.Lock()
		defer outMu.Unlock()
		fn(out)
	}

	reconciler := cache.NewReconciler(cache.Config{
		Date:    date,
		Fetcher: api,
		OnChange: func(s domain.Schedule) {
			if quiet || s.Layout.Slots == 0 {
				return
			}
			emit(func(w io.Writer) {
				if err := renderSchedule(w, s); err != nil {
					slog.Warn("Cannot render schedule", "date", s.Date, "error", err)
				}
				_, _ = fmt.Fprintln(w)
			})
		},
	})

	client := stream.NewClient(stream.Config{URL: streamURL, Header: opts.sessionHeader()})
	reconciler.Attach(client)

	failed := make(chan struct{})
	closed := make(chan struct{})
	var failOnce, closeOnce sync.Once
	var refreshes sync.WaitGroup
	client.OnHealthChange(func(from, to string) {
		emit(func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "stream: %s -> %s\n", from, to)
		})
		// a disconnect without a pending retry never recovers on its own
		if to == stream.StateDisconnected.String() {
			closeOnce.Do(func() { close(closed) })
		}
	})
	client.OnStateChange(func(_, to stream.State) {
		switch to {
		case stream.StateConnected:
			// events missed while disconnected are only visible in a refetch
			refreshes.Go(func() {
				if err := reconciler.Refresh(ctx); err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return err
	}

	var result error
	select {
	case <-ctx.Done():
	case <-failed:
		result = fmt.Errorf("%w after %d attempts, check the session cookie and server address", errStreamFailed, client.Attempts())
	case <-closed:
		result = fmt.Errorf("%w, the grid above may be stale", errStreamClosed)
	}

	client.Stop()
	refreshes.Wait()
	reconciler.Wait()
	return result
}
