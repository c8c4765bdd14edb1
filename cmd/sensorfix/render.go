package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"sensorfix/internal/progress"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	headerCellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("10"))

	badStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

func verdict(ok bool, yes, no string) string {
	if ok {
		return okStyle.Render(yes)
	}
	return badStyle.Render(no)
}

// table renders rows with left aligned columns sized to their widest cell.
func table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if cw := lipgloss.Width(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			s := lipgloss.NewStyle().Width(widths[i]).Render(cell)
			if style != nil {
				s = style.Render(s)
			}
			parts[i] = s
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(w, line(header, &headerCellStyle))
	for _, row := range rows {
		fmt.Fprintln(w, line(row, nil))
	}
}

// progressPrinter renders progress updates as one line each.
type progressPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *progressPrinter) Report(u progress.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u.Indeterminate {
		fmt.Fprintf(p.w, "%s %s\n", dimStyle.Render("..."), u.Title)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", dimStyle.Render(fmt.Sprintf("%3.0f%%", u.Fraction*100)), u.Title)
}

// printNotifier shows a message the user must act on.
type printNotifier struct {
	w io.Writer
}

func (n printNotifier) Notify(_ context.Context, message string) {
	fmt.Fprintln(n.w, warnStyle.Render("! "+message))
}
