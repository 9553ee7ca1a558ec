// Package output renders command results as tables, JSON or YAML, and
// prints the colored status lines of a build.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Styles
var (
	highlightStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#04B575"))

	alertStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF4672"))

	faintStyle = lipgloss.NewStyle().Faint(true)
)

// ValidFormat reports whether format is one of the supported formats
func ValidFormat(format string) bool {
	switch format {
	case FormatTable, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// PrintJSON writes data as indented JSON
func PrintJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintYAML writes data as YAML
func PrintYAML(w io.Writer, data interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

// Print writes data in a structured format. Table output is left to
// the caller, so it returns false for FormatTable.
func Print(w io.Writer, format string, data interface{}) (bool, error) {
	switch format {
	case FormatJSON:
		return true, PrintJSON(w, data)
	case FormatYAML:
		return true, PrintYAML(w, data)
	}
	return false, nil
}

// PrintTable writes tabular data
func PrintTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, h)
	}
	fmt.Fprintln(tw)

	for _, row := range rows {
		for i, col := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, col)
		}
		fmt.Fprintln(tw)
	}

	tw.Flush()
}

// PrintMessage writes a plain message
func PrintMessage(w io.Writer, msg string) {
	fmt.Fprintln(w, msg)
}

// Highlight writes an emphasized progress line
func Highlight(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, highlightStyle.Render(fmt.Sprintf(format, args...)))
}

// Success writes a success line
func Success(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf(format, args...)))
}

// Alert writes a failure line
func Alert(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, alertStyle.Render(fmt.Sprintf(format, args...)))
}

// Faint writes a de-emphasized line
func Faint(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, faintStyle.Render(fmt.Sprintf(format, args...)))
}

// PrintError writes an error message
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, alertStyle.Render("Error: "+err.Error()))
}

// Size formats a byte count, e.g. "12 MB"
func Size(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

// Duration formats d rounded to the second, e.g. "2m13s"
func Duration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// Ago formats t relative to now, e.g. "3 hours ago"
func Ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
