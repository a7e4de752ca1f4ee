// Package report renders run summaries for the terminal.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/kass/cf-poverty/pkg/coverage"
	"github.com/kass/cf-poverty/pkg/dataset"
	"github.com/kass/cf-poverty/pkg/mpi"
	"github.com/kass/cf-poverty/pkg/sjoin"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF79C6")).
			Background(lipgloss.Color("#282A36")).
			Padding(0, 1).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))

	borderColor = lipgloss.Color("#BD93F9")
)

func render(w io.Writer, title string, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)

	_, err := fmt.Fprintln(w, titleStyle.Render(title)+"\n"+t.Render())
	return err
}

// Coverage renders per-year coverage and how many forests are covered in
// at least k survey rounds
func Coverage(w io.Writer, cov *coverage.Coverage) error {
	rows := make([][]string, 0, len(cov.Years))
	for _, s := range cov.Summary() {
		rows = append(rows, []string{
			strconv.Itoa(s.Year),
			fmt.Sprintf("%d/%d", s.WithClusters, s.Total),
			fmt.Sprintf("%.1f%%", s.Percent),
		})
	}
	title := fmt.Sprintf("Forests with clusters within %s m (class %s)", formatNumber(cov.Radius), classLabel(cov.Class))
	if err := render(w, title, []string{"Year", "Forests", "Share"}, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for k := 1; k <= len(cov.Years); k++ {
		rows = append(rows, []string{fmt.Sprintf(">= %d", k), strconv.Itoa(cov.CountCoveredAtLeast(k))})
	}
	return render(w, "Forests by number of survey rounds", []string{"Rounds", "Forests"}, rows)
}

// Combinations renders exact year-combination counts
func Combinations(w io.Writer, combos []coverage.Combination) error {
	rows := make([][]string, len(combos))
	for i, c := range combos {
		rows[i] = []string{c.Label(), strconv.Itoa(c.Forests)}
	}
	return render(w, "Forests covered in exactly these years", []string{"Years", "Forests"}, rows)
}

// Areas renders forest area statistics for forests with and without clusters
func Areas(w io.Writer, stats map[bool]coverage.Describe) error {
	rows := make([][]string, 0, 2)
	for _, has := range []bool{true, false} {
		d, ok := stats[has]
		if !ok {
			continue
		}
		label := errorStyle.Render("no clusters")
		if has {
			label = successStyle.Render("with clusters")
		}
		rows = append(rows, []string{
			label,
			strconv.Itoa(d.Count),
			formatFloat(d.Mean, 1),
			formatFloat(d.Std, 1),
			formatFloat(d.Min, 1),
			formatFloat(d.Median, 1),
			formatFloat(d.Max, 1),
		})
	}
	return render(w, "Forest area (ha)", []string{"Group", "Count", "Mean", "Std", "Min", "Median", "Max"}, rows)
}

// Nearest renders the distance to the closest cluster, farthest first, up
// to limit rows (0 for all)
func Nearest(w io.Writer, results []sjoin.NearestResult, limit int) error {
	sorted := append([]sjoin.NearestResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Distance > sorted[j].Distance })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	rows := make([][]string, len(sorted))
	for i, r := range sorted {
		id, dist := r.NearestID, formatFloat(r.Distance, 0)
		if !r.Found {
			id, dist = dimStyle.Render("none"), dimStyle.Render("-")
		}
		rows[i] = []string{r.RefID, id, dist}
	}
	return render(w, "Closest cluster to each forest centroid", []string{"Forest", "Cluster", "Distance (m)"}, rows)
}

// Estimates renders MPI estimates with their confidence intervals, up to
// limit rows (0 for all)
func Estimates(w io.Writer, estimates []mpi.Estimate, limit int) error {
	shown := estimates
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	rows := make([][]string, len(shown))
	for i, e := range shown {
		rows[i] = []string{
			e.Unit,
			formatFloat(e.MPI, 4),
			formatFloat(e.SE, 4),
			fmt.Sprintf("[%s, %s]", formatFloat(e.Lower, 4), formatFloat(e.Upper, 4)),
			formatFloat(e.Headcount, 3),
			formatFloat(e.Intensity, 3),
			strconv.Itoa(e.TotalSampled),
			formatFloat(e.PercentMissing, 1),
		}
	}
	title := fmt.Sprintf("MPI estimates (%d units)", len(estimates))
	if len(shown) < len(estimates) {
		title += dimStyle.Render(fmt.Sprintf(" showing %d", len(shown)))
	}
	return render(w, title, []string{"Unit", "MPI", "SE", "CI", "H", "A", "People", "% missing"}, rows)
}

// Invalid renders geometry problems found by the input check
func Invalid(w io.Writer, invalid []dataset.InvalidFeature, duplicates []string) error {
	rows := make([][]string, 0, len(invalid)+len(duplicates))
	for _, f := range invalid {
		rows = append(rows, []string{f.ID, errorStyle.Render(f.Err.Error())})
	}
	for _, id := range duplicates {
		rows = append(rows, []string{id, "duplicate geometry"})
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, successStyle.Render("All forest geometries are valid and unique"))
		return err
	}
	return render(w, "Forest geometry problems", []string{"Forest", "Problem"}, rows)
}

func classLabel(class string) string {
	switch class {
	case "":
		return "all"
	default:
		return class
	}
}

func formatFloat(f float64, prec int) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "-"
	}
	return strconv.FormatFloat(f, 'f', prec, 64)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
