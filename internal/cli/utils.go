// Package cli provides output helpers for the recall command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/recall/internal/importer"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/search"
	"github.com/hyperjump/recall/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a --output flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text or json)", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes the answer to a question.
func WriteAnswer(w io.Writer, query string, resp *models.ChatResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\n> %s\n\n%s\n\n", query, resp.Answer)
	return nil
}

// WritePrompt writes the prompt that would be sent to the generator.
func WritePrompt(w io.Writer, p *search.Prompt, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{
			"system": p.System,
			"user":   p.User,
			"ids":    p.IDs,
		})
	}
	fmt.Fprintf(w, "--- system ---\n%s\n\n--- user ---\n%s\n\n", p.System, p.User)
	fmt.Fprintf(w, "(%d messages in context: %s)\n", len(p.IDs), strings.Join(p.IDs, ", "))
	return nil
}

// WriteMatches writes keyword search results.
func WriteMatches(w io.Writer, resp *models.FindResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d messages in %dms\n\n", resp.Total, resp.QueryTime)
	for _, m := range resp.Results {
		msg := m.Message
		chat := msg.ChatName
		if chat == "" {
			chat = msg.ChatJID
		}
		fmt.Fprintf(w, "[%s] %s | %s (score %.3f)\n", msg.Timestamp.Format("2006-01-02 15:04"), chat, msg.ID, m.Score)
		fmt.Fprintf(w, "  %s\n\n", utils.Truncate(msg.ContextLine(), 200))
	}
	return nil
}

// WriteStatus writes a summary of the stored and indexed state.
func WriteStatus(w io.Writer, st *models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Messages:   %d in %d chats\n", st.Messages, st.Chats)
	fmt.Fprintf(w, "Index:      %d vectors (%d dims)\n", st.IndexSize, st.Dimensions)
	fmt.Fprintf(w, "Database:   %s\n", st.DatabasePath)
	fmt.Fprintf(w, "Index file: %s\n", st.IndexPath)
	fmt.Fprintf(w, "Disk usage: %s\n", FormatBytes(st.DiskBytes))
	return nil
}

// WriteImportResult writes the totals of an import run.
func WriteImportResult(w io.Writer, r importer.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "Imported %d files: %d lines, %d stored, %d indexed, %d duplicate, %d invalid, %d failed\n",
		r.Files, r.Lines, r.Stored, r.Indexed, r.Duplicate, r.Invalid, r.Failed)
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
