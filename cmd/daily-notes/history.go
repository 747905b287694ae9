package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Harinder441/daily-notes-ai/internal/docfile"
	"github.com/Harinder441/daily-notes-ai/internal/history"
	"github.com/Harinder441/daily-notes-ai/internal/netstatus"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
	"github.com/Harinder441/daily-notes-ai/internal/syncengine"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	previewRunes     = 60
	restoreSettleGap = 50 * time.Millisecond
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and restore superseded versions kept on this device",
	}
	cmd.AddCommand(newHistoryListCommand(), newHistoryClearCommand(), newHistoryRestoreCommand())
	return cmd
}

func newHistoryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived versions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := openClientStack()
			if err != nil {
				return err
			}
			defer stack.close()

			entries, err := stack.history.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "no history")
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintf(out, "%s  %s  %s  %s\n",
					entry.ID,
					entry.DayKey,
					entry.Timestamp.Local().Format(time.DateTime),
					preview(entry.Content))
			}
			return nil
		},
	}
}

func newHistoryClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every archived version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := openClientStack()
			if err != nil {
				return err
			}
			defer stack.close()

			if err := stack.history.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
			return nil
		},
	}
}

func newHistoryRestoreCommand() *cobra.Command {
	var documentPath string
	cmd := &cobra.Command{
		Use:   "restore <entry-id>",
		Short: "Make an archived version today's note, archiving the current one first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd.Context(), cmd.OutOrStdout(), args[0], documentPath)
		},
	}
	cmd.Flags().StringVar(&documentPath, "file", "", "Also rewrite this mirrored document file")
	return cmd
}

func runRestore(ctx context.Context, out io.Writer, entryID, documentPath string) error {
	stack, err := openClientStack()
	if err != nil {
		return err
	}
	defer stack.close()
	logger := stack.logger

	entries, err := stack.history.List(ctx)
	if err != nil {
		return err
	}
	entry, found := findEntry(entries, entryID)
	if !found {
		return fmt.Errorf("history entry %q not found", entryID)
	}

	var mirror *docfile.Mirror
	if documentPath != "" {
		if mirror, err = docfile.NewMirror(documentPath, logger); err != nil {
			return err
		}
	}

	network := netstatus.NewManualSignal(stack.remote.Ping(ctx) == nil)
	orchestrator, err := syncengine.NewOrchestrator(syncengine.Config{
		UserID:               stack.userID,
		Drafts:               stack.drafts,
		History:              stack.history,
		Remote:               stack.remote,
		Network:              network,
		Debounce:             stack.config.Debounce,
		Logger:               logger,
		ShutdownFlushTimeout: shutdownFlushTimeout,
		OnDocument: func(day notes.DayKey, content string) {
			if mirror == nil {
				return
			}
			if err := mirror.Write(content); err != nil {
				logger.Error("failed to mirror document", zap.String("day_key", day.String()), zap.Error(err))
			}
		},
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return orchestrator.Run(groupCtx) })
	group.Go(func() error {
		defer cancel()
		if err := orchestrator.Restore(groupCtx, entry); err != nil {
			return err
		}
		waitForSave(groupCtx, orchestrator, shutdownFlushTimeout)
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}

	if orchestrator.State().HasUnsavedChanges {
		fmt.Fprintln(out, "restored on this device; it will sync when the server is reachable")
		return nil
	}
	fmt.Fprintln(out, "restored and saved")
	return nil
}

// waitForSave polls until the engine reports no unsaved changes, the network is down, or
// the timeout passes. Teardown makes the final save attempt either way.
func waitForSave(ctx context.Context, orchestrator *syncengine.Orchestrator, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(restoreSettleGap)
	defer ticker.Stop()
	for {
		state := orchestrator.State()
		if !state.IsOnline || (!state.HasUnsavedChanges && !state.IsSaving) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

func findEntry(entries []history.Entry, id string) (history.Entry, bool) {
	for _, entry := range entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return history.Entry{}, false
}

func preview(content string) string {
	firstLine, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	if utf8.RuneCountInString(firstLine) <= previewRunes {
		return firstLine
	}
	runes := []rune(firstLine)
	return string(runes[:previewRunes]) + "..."
}
