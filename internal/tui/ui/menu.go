package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

const menuRows = 6

// Menu shows the current page's key hints in columns of six.
type Menu struct {
	*tview.TextView
	theme *Theme
}

func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)
	return &Menu{TextView: tv, theme: theme}
}

func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	_, _ = fmt.Fprint(m, formatMenu(hints, Tag(m.theme.MenuKeyColor), Tag(m.theme.NumericKeyColor)))
}

func formatMenu(hints []MenuHint, keyColor, numColor string) string {
	rows := make([]strings.Builder, min(len(hints), menuRows))
	for i, h := range hints {
		kc := keyColor
		if h.Numeric {
			kc = numColor
		}
		cell := fmt.Sprintf("[%s::b]<%s>[-:-:-] %s", kc, h.Key, h.Description)
		row := &rows[i%menuRows]
		if row.Len() > 0 {
			// Pad by visible width so columns line up.
			row.WriteString(strings.Repeat(" ", max(1, 20-len(h.Key)-len(h.Description)-3)))
		}
		row.WriteString(cell)
	}
	lines := make([]string, len(rows))
	for i := range rows {
		lines[i] = rows[i].String()
	}
	return strings.Join(lines, "\n")
}
