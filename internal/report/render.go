// Package report renders analysis reports as terminal tables, JSON or YAML
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/goccy/go-yaml"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
	"github.com/teslashibe/go-soundcheck/internal/score"
)

// Format selects the output encoding
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a format name. Empty selects the table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// Theme defines the table colors
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
	Fail    lipgloss.Color
}

// DefaultTheme matches the CLI banner
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Fail:    lipgloss.Color("#ff5f5f"),
}

// Write encodes reports to w in the given format
func Write(w io.Writer, reports []analysis.Report, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case FormatYAML:
		data, err := yaml.Marshal(reports)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatTable, "":
		_, err := io.WriteString(w, Tables(reports, DefaultTheme))
		return err
	}
	return fmt.Errorf("unsupported output format: %s", format)
}

// Tables renders quality and DOA reports as separate tables
func Tables(reports []analysis.Report, theme Theme) string {
	var quality, doas []analysis.Report
	for _, r := range reports {
		switch {
		case r.Quality != nil:
			quality = append(quality, r)
		case r.DOA != nil:
			doas = append(doas, r)
		}
	}

	var parts []string
	if len(quality) > 0 {
		parts = append(parts, QualityTable(quality, theme))
	}
	if len(doas) > 0 {
		parts = append(parts, DOASummaryTable(doas, theme), BlockTable(doas, theme))
	}
	if len(parts) == 0 {
		return "no reports\n"
	}
	return strings.Join(parts, "\n") + "\n"
}

func newTable(theme Theme, headers []string, rows [][]string, statusCol int) string {
	header := lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	fail := cell.Foreground(theme.Fail)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.Dim)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			if col == statusCol && row >= 0 && row < len(rows) && rows[row][col] != "ok" {
				return fail
			}
			return cell
		})
	return t.Render()
}

// QualityTable renders File | Status | Offset | Gain | one column per metric
func QualityTable(reports []analysis.Report, theme Theme) string {
	metrics := metricNames(reports)
	headers := append([]string{"File", "Status", "Offset (s)", "Gain"}, upper(metrics)...)

	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		q := r.Quality
		status := q.Status
		if q.Error != "" {
			status += ": " + q.Error
		}
		row := []string{filepath.Base(q.File), status, "-", "-"}
		if q.Status == "ok" || q.OffsetSamples != 0 {
			row[2] = strconv.FormatFloat(q.OffsetSeconds, 'f', 4, 64)
		}
		if q.Gain != 0 {
			row[3] = strconv.FormatFloat(q.Gain, 'f', 3, 64)
		}
		for _, m := range metrics {
			v, ok := q.Scores[m]
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, formatValue(v))
		}
		rows = append(rows, row)
	}
	return newTable(theme, headers, rows, 1)
}

// DOASummaryTable renders one row per capture with its evaluation
func DOASummaryTable(reports []analysis.Report, theme Theme) string {
	headers := []string{"File", "Status", "Dur (s)", "Blocks", "Azimuth", "Sector", "Accuracy", "Sensitivity"}
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		d := r.DOA
		status := d.Status
		if d.Error != "" {
			status += ": " + d.Error
		}
		row := []string{
			filepath.Base(d.File), status,
			strconv.FormatFloat(d.DurationSec, 'f', 2, 64),
			strconv.Itoa(len(d.Blocks)),
			"-", "-", "-", "-",
		}
		if ev := d.Evaluation; ev != nil {
			row[4] = strconv.Itoa(ev.DominantAzimuth)
			row[5] = strconv.Itoa(ev.Sector)
			row[6] = fmt.Sprintf("%.1f%%", ev.Accuracy)
			row[7] = fmt.Sprintf("%.1f%%", ev.Sensitivity)
		}
		rows = append(rows, row)
	}
	return newTable(theme, headers, rows, 1)
}

// BlockTable renders File | Block | Start | Dur | AVE | STD | Pol-Diff
func BlockTable(reports []analysis.Report, theme Theme) string {
	headers := []string{"File", "Block", "Start (s)", "Dur (s)", "AVE", "STD", "Pol-Diff"}
	var rows [][]string
	for _, r := range reports {
		for i, b := range r.DOA.Blocks {
			rows = append(rows, []string{
				filepath.Base(r.DOA.File),
				strconv.Itoa(i + 1),
				strconv.FormatFloat(b.StartSec, 'f', 3, 64),
				strconv.FormatFloat(b.DurationSec, 'f', 3, 64),
				strconv.FormatFloat(b.MeanDeg, 'f', 2, 64),
				strconv.FormatFloat(b.StdDeg, 'f', 2, 64),
				strconv.FormatFloat(b.PoleDiffDeg, 'f', 2, 64),
			})
		}
	}
	return newTable(theme, headers, rows, -1)
}

func metricNames(reports []analysis.Report) []string {
	seen := make(map[string]bool)
	for _, r := range reports {
		for name := range r.Quality.Scores {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func upper(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ToUpper(n)
	}
	return out
}

func formatValue(v score.Value) string {
	f := float64(v)
	switch {
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	}
	return strconv.FormatFloat(f, 'f', 4, 64)
}
