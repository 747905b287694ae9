package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Harinder441/daily-notes-ai/internal/export"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	formatMarkdown = "markdown"
	formatHTML     = "html"
)

func newExportCommand() *cobra.Command {
	var (
		outputPath string
		format     string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write notes not yet exported to a month-grouped document and mark them exported",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := openClientStack()
			if err != nil {
				return err
			}
			defer stack.close()

			records, err := stack.remote.PendingExport(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "nothing to export")
				return nil
			}

			rendered, err := renderExport(records, format)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outputPath, []byte(rendered), 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			stack.logger.Info("export written", zap.String("path", outputPath), zap.Int("notes", len(records)))

			if dryRun {
				fmt.Fprintf(out, "wrote %d notes to %s (not marked)\n", len(records), outputPath)
				return nil
			}
			marked, err := stack.remote.MarkExported(cmd.Context(), export.DayKeys(records))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %d notes to %s, marked %d exported\n", len(records), outputPath, marked)
			return nil
		},
	}
	cmd.Flags().StringVar(&outputPath, "output", "daily-notes-export.md", "Destination file")
	cmd.Flags().StringVar(&format, "format", formatMarkdown, "Output format (markdown, html)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Write the document without marking notes exported")
	return cmd
}

func renderExport(records []notes.Record, format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case formatMarkdown, "md":
		return export.RenderMarkdown(records), nil
	case formatHTML:
		return export.RenderHTML(records)
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
}
