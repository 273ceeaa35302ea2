package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/jirevwe/logqueue"
	"github.com/jirevwe/logqueue/queue"
	"github.com/spf13/cobra"
)

const maxRecordBytes = 16 << 20

var (
	listColumns = []column{
		{header: "ID", right: true},
		{header: "Time"},
		{header: "Message", maxWidth: 80},
	}
	statsColumns = []column{
		{header: "Queue"},
		{header: "Pending", right: true},
		{header: "Path"},
	}
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue [message...]",
		Short: "Append messages to the queue (one per argument, or one per stdin line)",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := ctx.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			write := func(message string) error {
				entry, err := q.Write(cmd.Context(), message)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), entry.Id)
				return nil
			}

			if len(args) > 0 {
				for _, message := range args {
					if err := write(message); err != nil {
						return err
					}
				}
				return nil
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)
			for scanner.Scan() {
				if err := write(scanner.Text()); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
}

func newPeekCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "peek",
		Short: "Show the oldest pending entry without removing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := ctx.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			entry, err := q.Peek(cmd.Context())
			if errors.Is(err, queue.ErrEmpty) {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", entry.Id, formatTime(entry), entry.Message)
			return nil
		},
	}
}

func newAckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <id>",
		Short: "Remove an entry by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}

			q, err := ctx.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			if err = q.Delete(cmd.Context(), id); err != nil {
				if errors.Is(err, queue.ErrNotFound) {
					return fmt.Errorf("entry %d not found", id)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "acknowledged %d\n", id)
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending entries, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := ctx.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			entries, err := q.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					strconv.FormatInt(e.Id, 10),
					formatTime(e),
					e.Message,
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(listColumns, rows))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	return cmd
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the number of pending entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := ctx.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			n, err := q.Len(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(statsColumns,
				[][]string{{q.Name(), strconv.FormatInt(n, 10), q.Path()}}))
			return nil
		},
	}
}

func newDrainCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Write every pending entry to stdout and acknowledge it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := logqueue.NewWriterSender(cmd.OutOrStdout(), format)
			if err != nil {
				return err
			}

			q, err := ctx.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			shipper := logqueue.NewShipper(q, sender, logqueue.ShipperOptions{Logger: ctx.logger})
			n, err := shipper.Drain(cmd.Context())
			ctx.logger.Info("drained queue", "queue", q.Name(), "entries", n)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", logqueue.FormatText, "Output format: text or msgpack")
	return cmd
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Queue stdin lines and ship them to stdout until stdin closes and the queue is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			sender, err := logqueue.NewWriterSender(cmd.OutOrStdout(), format)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server, err := logqueue.NewServer(cfg, logqueue.WithServerLogger(ctx.logger))
			if err != nil {
				return err
			}
			if err = server.CreateQueue(cfg.Queue, sender); err != nil {
				return err
			}
			if err = server.Start(runCtx); err != nil {
				_ = server.Stop()
				return err
			}

			producer, _ := server.Producer(cfg.Queue)
			q, _ := server.Queue(cfg.Queue)

			feedErr := feed(cmd.InOrStdin(), producer)
			if feedErr == nil {
				feedErr = producer.Close()
			}
			if feedErr == nil {
				feedErr = waitEmpty(runCtx, q, cfg.Shipper.IdleInterval.Duration)
			}

			return errors.Join(feedErr, server.Stop())
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", logqueue.FormatText, "Output format: text or msgpack")
	return cmd
}

func feed(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)
	for scanner.Scan() {
		if _, err := w.Write(scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func waitEmpty(ctx context.Context, q queue.Queue, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := q.Len(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func formatTime(e queue.Entry) string {
	return e.Timestamp().UTC().Format(time.RFC3339Nano)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}
