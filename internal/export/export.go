// Package export renders batches of daily notes into month-grouped documents.
package export

import (
	"bytes"
	"sort"
	"strings"

	"github.com/Harinder441/daily-notes-ai/internal/notes"
	"github.com/yuin/goldmark"
)

const (
	monthLayout = "January 2006"
	dayLayout   = "Monday, January 2, 2006"
	divider     = "---"
)

// MonthGroup holds the records of one calendar month, oldest day first.
type MonthGroup struct {
	Title   string
	Records []notes.Record
}

// GroupByMonth orders records by day and groups them under a "January 2006" title.
// Records with malformed day keys are skipped.
func GroupByMonth(records []notes.Record) []MonthGroup {
	ordered := make([]notes.Record, 0, len(records))
	for _, record := range records {
		if record.DayKey.Date().IsZero() {
			continue
		}
		ordered = append(ordered, record)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DayKey < ordered[j].DayKey
	})

	var groups []MonthGroup
	for _, record := range ordered {
		title := record.DayKey.Date().Format(monthLayout)
		if len(groups) == 0 || groups[len(groups)-1].Title != title {
			groups = append(groups, MonthGroup{Title: title})
		}
		last := &groups[len(groups)-1]
		last.Records = append(last.Records, record)
	}
	return groups
}

// RenderMarkdown writes a level-two heading per month, one dated paragraph per day
// and a divider after each month.
func RenderMarkdown(records []notes.Record) string {
	var builder strings.Builder
	for index, group := range GroupByMonth(records) {
		if index > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("## ")
		builder.WriteString(group.Title)
		builder.WriteString("\n\n")
		for _, record := range group.Records {
			builder.WriteString("**")
			builder.WriteString(record.DayKey.Date().Format(dayLayout))
			builder.WriteString("**\n\n")
			content := strings.TrimSpace(record.Content)
			if content != "" {
				builder.WriteString(content)
				builder.WriteString("\n\n")
			}
		}
		builder.WriteString(divider)
		builder.WriteString("\n")
	}
	return builder.String()
}

// RenderHTML converts the markdown rendering to HTML. Raw HTML inside note content
// is omitted by the renderer.
func RenderHTML(records []notes.Record) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(RenderMarkdown(records)), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DayKeys lists the days covered by records in the order given.
func DayKeys(records []notes.Record) []notes.DayKey {
	days := make([]notes.DayKey, 0, len(records))
	for _, record := range records {
		days = append(days, record.DayKey)
	}
	return days
}
