package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasksync/client"
	"tasksync/domain"
)

func newClient() (*client.Client, error) {
	return client.New(serverURL, nil)
}

func newEventsCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the calendar feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			events, err := c.Events(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "no tasks due in range")
				return nil
			}
			for _, ev := range events {
				fmt.Fprintf(out, "%s  %s  (%s)\n", ev.Start, ev.Title, ev.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day of the range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day of the range (YYYY-MM-DD)")
	return cmd
}

func newRescheduleCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reschedule <task-id> <date>",
		Short: "Move a task to a new due date the way the calendar does",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := domain.ParseDate(args[1])
			if err != nil {
				return fmt.Errorf("invalid date %q: %w", args[1], err)
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			events, err := c.Events(cmd.Context(), "", "")
			if err != nil {
				return err
			}
			cal := client.NewCalendar(events)
			drag, err := client.NewRescheduler(cal, c, timeout, nil).BeginDrag(args[0])
			if err != nil {
				return err
			}
			dropErr := drag.Drop(cmd.Context(), to)
			ev, _ := cal.Event(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, due %s\n", drag.Phase(), ev.Title, ev.Start)
			return dropErr
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the server to persist the move")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print task changes as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return watch(cmd.Context(), c, log.StandardLogger(), func(board *client.Board, p domain.Push) {
				if asJSON {
					data, err := sonic.Marshal(p)
					if err == nil {
						fmt.Fprintln(out, string(data))
					}
					return
				}
				title := p.ID
				if p.Task != nil {
					title = p.Task.Title
				}
				fmt.Fprintf(out, "%-8s %-7s %s  (%d on board)\n", p.Kind, p.Action, title, board.Len())
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw push messages")
	return cmd
}

const (
	watchMinBackoff = 500 * time.Millisecond
	watchMaxBackoff = 30 * time.Second
)

// watch keeps a board in sync until ctx is done. Every (re)connect starts
// with a fresh list, since pushes missed while disconnected are not replayed.
func watch(ctx context.Context, c *client.Client, logger *log.Logger, show func(*client.Board, domain.Push)) error {
	board := client.NewBoard()
	backoff := watchMinBackoff
	for {
		connected, err := syncBoard(ctx, c, board, show)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = watchMinBackoff
		}
		var te *client.TransportError
		if err != nil && !errors.As(err, &te) {
			return err
		}
		logger.WithError(err).WithField("retry_in", backoff).Warn("change stream lost, resyncing")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > watchMaxBackoff {
			backoff = watchMaxBackoff
		}
	}
}

// syncBoard subscribes before listing, so changes committed while the list is
// in flight are queued on the stream and applied after the reset. Applying a
// push the list already reflects leaves the board unchanged.
func syncBoard(ctx context.Context, c *client.Client, board *client.Board, show func(*client.Board, domain.Push)) (bool, error) {
	stream, err := c.Subscribe(ctx)
	if err != nil {
		return false, err
	}
	tasks, err := c.List(ctx)
	if err != nil {
		stream.Close()
		return false, err
	}
	board.Reset(tasks)
	return true, stream.Run(ctx, func(p domain.Push) {
		board.Apply(p)
		show(board, p)
	})
}
