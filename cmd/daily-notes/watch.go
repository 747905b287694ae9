package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harinder441/daily-notes-ai/internal/docfile"
	"github.com/Harinder441/daily-notes-ai/internal/netstatus"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
	"github.com/Harinder441/daily-notes-ai/internal/statusline"
	"github.com/Harinder441/daily-notes-ai/internal/syncengine"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDocumentPath  = "today.md"
	shutdownFlushTimeout = 5 * time.Second
)

func newWatchCommand() *cobra.Command {
	var documentPath string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync today's note while mirroring it to a file you edit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), documentPath, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&documentPath, "file", defaultDocumentPath, "File mirroring today's note")
	return cmd
}

func runWatch(ctx context.Context, documentPath string, statusOut io.Writer) error {
	stack, err := openClientStack()
	if err != nil {
		return err
	}
	defer stack.close()
	logger := stack.logger

	mirror, err := docfile.NewMirror(documentPath, logger)
	if err != nil {
		return err
	}

	monitor := netstatus.NewProbeMonitor(netstatus.ProbeMonitorConfig{
		Probe:    stack.remote.Ping,
		Interval: stack.config.ProbeInterval,
		Logger:   logger,
	})

	status := &statusPrinter{out: statusOut}
	orchestrator, err := syncengine.NewOrchestrator(syncengine.Config{
		UserID:               stack.userID,
		Drafts:               stack.drafts,
		History:              stack.history,
		Remote:               stack.remote,
		Feed:                 stack.remote,
		Network:              monitor,
		Debounce:             stack.config.Debounce,
		Logger:               logger,
		ShutdownFlushTimeout: shutdownFlushTimeout,
		OnDocument: func(day notes.DayKey, content string) {
			if err := mirror.Write(content); err != nil {
				logger.Error("failed to mirror document", zap.String("day_key", day.String()), zap.Error(err))
			}
		},
		OnState: status.print,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("watching document", zap.String("path", mirror.Path()), zap.String("user_id", stack.userID.String()))

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error { return monitor.Run(groupCtx) })
	group.Go(func() error { return orchestrator.Run(groupCtx) })
	group.Go(func() error { return mirror.Watch(groupCtx, orchestrator.HandleTextChange) })
	err = group.Wait()

	status.finish()
	if orchestrator.State().HasUnsavedChanges {
		fmt.Fprintln(statusOut, "unsaved changes are kept on this device and will sync on the next run")
	}
	return err
}

// statusPrinter redraws a single status line. It is only called from the engine loop and
// after the loop has exited.
type statusPrinter struct {
	out  io.Writer
	last string
}

func (p *statusPrinter) print(state syncengine.State) {
	line := statusline.Render(state)
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintf(p.out, "\r\033[K%s", line)
}

func (p *statusPrinter) finish() {
	if p.last != "" {
		fmt.Fprintln(p.out)
	}
}
