// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1).Align(lipgloss.Right)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1).Align(lipgloss.Right)
	bestCellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1).Align(lipgloss.Right)
)

// newTable returns a table with a header row and alternating row styles.
// If isBest is not nil, cells for which it returns true are highlighted.
func newTable(isBest func(row, col int) bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row < 0:
				return headerRowStyle
			case isBest != nil && isBest(row, col):
				return bestCellStyle
			case row%2 == 0:
				return oddRowStyle
			default:
				return evenRowStyle
			}
		})
}

// WriteSummary writes the seed sweep summary lines "val mean X val std Y" and "test mean X test std Y".
func WriteSummary(w io.Writer, result *SeedSweepResult) error {
	valMean, valStd, testMean, testStd := result.Summary()
	_, err := fmt.Fprintf(w, "val mean %v val std %v\ntest mean %v test std %v\n", valMean, valStd, testMean, testStd)
	return err
}

// SummaryTable renders the seed sweep summary as a table.
func SummaryTable(result *SeedSweepResult) string {
	valMean, valStd, testMean, testStd := result.Summary()
	table := newTable(nil).
		Headers("split", "mean", "std").
		Row("val", formatAccuracy(valMean), formatAccuracy(valStd)).
		Row("test", formatAccuracy(testMean), formatAccuracy(testStd))
	return fmt.Sprintf("%s\n%d seeds", table.Render(), len(result.Seeds))
}

// Best returns the indices of the cell with the highest mean validation accuracy.
// Ties keep the first cell in row-major order. It returns (-1, -1) for an empty table.
func (r *GridResult) Best() (dimIdx, weightIdx int) {
	dimIdx, weightIdx = -1, -1
	for i, row := range r.Table {
		for j, value := range row {
			if dimIdx < 0 || value > r.Table[dimIdx][weightIdx] {
				dimIdx, weightIdx = i, j
			}
		}
	}
	return
}

// GridTable renders the grid search result with one row per reduced dimension and one column
// per loss weight. The best cell is highlighted.
func GridTable(result *GridResult) string {
	bestI, bestJ := result.Best()
	table := newTable(func(row, col int) bool {
		// Column 0 holds the reduced dimension.
		return row == bestI && col == bestJ+1
	})
	headers := make([]string, 0, len(result.LossWeights)+1)
	headers = append(headers, "dim \\ weight")
	for _, weight := range result.LossWeights {
		headers = append(headers, strconv.FormatFloat(weight, 'g', -1, 64))
	}
	table.Headers(headers...)
	for i, dim := range result.Dimensions {
		row := make([]string, 0, len(result.LossWeights)+1)
		row = append(row, strconv.Itoa(dim))
		for _, value := range result.Table[i] {
			row = append(row, formatAccuracy(value))
		}
		table.Row(row...)
	}
	return table.Render()
}

func formatAccuracy(value float64) string {
	return fmt.Sprintf("%.4f", value)
}
