// Command qdmd is the CLI entry point wiring config, logging, and the
// engine into a runnable process; a cobra command tree exposes the
// download lifecycle operations spec.md delegates to the shell.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/config"
	"github.com/nshaw/qdm/internal/engine"
	"github.com/nshaw/qdm/internal/logger"
)

var (
	debugFlag bool
	eng       *engine.Engine
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "qdmd",
	Short:         "qdmd is a segmented-download accelerator daemon and CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := logger.Init(debugFlag, filepath.Join(cfg.DataDir, "qdmd.log")); err != nil {
			return fmt.Errorf("failed to init logging: %w", err)
		}

		e, err := engine.New(cfg)
		if err != nil {
			return err
		}
		if err := e.Init(); err != nil {
			return err
		}
		eng = e
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if eng != nil {
			_ = eng.Shutdown()
		}
		logger.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCmd(),
		newAddCmd(),
		newListCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newCancelCmd(),
		newRetryCmd(),
		newRemoveCmd(),
		newQueueCmd(),
	)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the download engine and ingestion endpoint until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port := eng.IngestPort(); port != 0 {
				fmt.Printf("ingestion endpoint listening on 127.0.0.1:%d\n", port)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					printStatusLine(eng.GlobalStats())
				}
			}
		},
	}
}

func printStatusLine(stats common.GlobalStats) {
	fmt.Printf("\ractive=%d queued=%d completed=%d failed=%d speed=%s/s   ",
		stats.ActiveDownloads, stats.QueuedDownloads, stats.CompletedDownloads,
		stats.FailedDownloads, humanize.Bytes(uint64(stats.CurrentSpeed)))
}

func newAddCmd() *cobra.Command {
	var (
		header    []string
		fileName  string
		autostart bool
	)

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "add a new download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			headers, err := parseHeaders(header)
			if err != nil {
				return err
			}

			id, err := eng.AddDownload(args[0], headers, fileName, autostart)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&header, "header", "H", nil, "request header 'Name: value' (repeatable)")
	cmd.Flags().StringVarP(&fileName, "output", "o", "", "caller-supplied filename override")
	cmd.Flags().BoolVar(&autostart, "autostart", true, "enqueue for immediate admission")
	return cmd
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := splitHeader(h)
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		out[name] = value
	}
	return out, nil
}

func splitHeader(h string) (name, value string, ok bool) {
	i := strings.IndexByte(h, ':')
	if i < 0 {
		return "", "", false
	}
	name = h[:i]
	value = strings.TrimSpace(h[i+1:])
	return name, value, name != ""
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every known download",
		RunE: func(cmd *cobra.Command, args []string) error {
			downloads := eng.ListDownloads()
			for _, d := range downloads {
				d.Lock()
				fmt.Printf("%s  %-11s  %6.1f%%  %10s/%-10s  %8s/s  %s\n",
					d.ID, d.Status, d.ProgressPct,
					humanize.Bytes(uint64(d.Downloaded)), sizeOrUnknown(d.TotalSize),
					humanize.Bytes(uint64(d.SpeedBps)), d.FileName)
				d.Unlock()
			}
			return nil
		},
	}
}

func sizeOrUnknown(n int64) string {
	if n == common.UnknownSize {
		return "?"
	}
	return humanize.Bytes(uint64(n))
}

func newPauseCmd() *cobra.Command {
	return idCmd("pause", "pause an in-flight download", func(id uuid.UUID) error { return eng.PauseDownload(id) })
}

func newResumeCmd() *cobra.Command {
	return idCmd("resume", "resume a paused download", func(id uuid.UUID) error { return eng.ResumeDownload(id) })
}

func newCancelCmd() *cobra.Command {
	return idCmd("cancel", "cancel a download and delete its scratch files", func(id uuid.UUID) error { return eng.CancelDownload(id) })
}

func newRetryCmd() *cobra.Command {
	return idCmd("retry", "restart a failed download's incomplete segments", func(id uuid.UUID) error { return eng.RetryDownload(id) })
}

func newRemoveCmd() *cobra.Command {
	return idCmd("rm", "remove a download and its on-disk state", func(id uuid.UUID) error { return eng.RemoveDownload(id) })
}

// idCmd builds a one-argument <id> subcommand so every lifecycle command
// shares the same uuid parsing and error path.
func idCmd(use, short string, fn func(uuid.UUID) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid download id: %w", err)
			}
			return fn(id)
		},
	}
}

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "inspect and manage queues",
	}

	queueCmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "list every queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, q := range eng.ListQueues() {
				fmt.Printf("%-12s %-20s enabled=%-5v max_concurrent=%-3d members=%d\n",
					q.ID, q.Name, q.Enabled, q.MaxConcurrent, len(q.DownloadIDs))
			}
			return nil
		},
	})

	var maxConcurrent int
	createCmd := &cobra.Command{
		Use:   "create <id> <name>",
		Short: "create a new queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eng.CreateQueue(&common.Queue{
				ID:            args[0],
				Name:          args[1],
				Enabled:       true,
				MaxConcurrent: maxConcurrent,
			})
		},
	}
	createCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 3, "concurrency cap for this queue")
	queueCmd.AddCommand(createCmd)

	queueCmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "delete a queue (refused for the last remaining queue)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eng.DeleteQueue(args[0])
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:   "move <queue-id> <download-id>",
		Short: "move a download into a queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid download id: %w", err)
			}
			return eng.EnqueueDownload(args[0], id)
		},
	})

	return queueCmd
}
