package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/huddle/internal/archive"
	"github.com/matheus3301/huddle/internal/tui/ui"
	"github.com/rivo/tview"
)

// SearchView lists full-text matches from the archive.
type SearchView struct {
	*tview.Table
	theme *ui.Theme
	data  []archive.SearchResult
	names func(conversationID string) string
	now   func() time.Time
}

// NewSearchView creates the results table. names maps a conversation id to
// its display name.
func NewSearchView(theme *ui.Theme, names func(string) string) *SearchView {
	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	return &SearchView{Table: results, theme: theme, names: names, now: time.Now}
}

func (sv *SearchView) Name() string { return "Search" }

func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Enter", Description: "Open"}, {Key: "Esc", Description: "Back"}}
}

func (sv *SearchView) Update(query string, results []archive.SearchResult) {
	sv.data = results
	sv.Clear()
	for col, h := range []string{" CONVERSATION", " FROM", " MATCH", " TIME"} {
		sv.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}
	for i, r := range results {
		row := i + 1
		m := r.Message
		conv := m.ConversationID
		if sv.names != nil {
			if n := sv.names(conv); n != "" {
				conv = n
			}
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = m.Content
		}
		sv.SetCell(row, 0, tview.NewTableCell(" "+clean(conv)).SetMaxWidth(25).SetTextColor(sv.theme.FgColor))
		sv.SetCell(row, 1, tview.NewTableCell(" "+clean(m.Sender.Name)).SetMaxWidth(20).SetTextColor(sv.theme.FgColor))
		sv.SetCell(row, 2, tview.NewTableCell(" "+clean(oneLine(snippet))).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.SetCell(row, 3, tview.NewTableCell(" "+formatTime(m.CreatedAt, sv.now())).SetTextColor(sv.theme.FgColor))
	}
	sv.SetTitle(fmt.Sprintf(" Results for %q (%d) ", tview.Escape(query), len(results)))
	sv.Select(1, 0)
}

// Selected returns the conversation and message id under the cursor.
func (sv *SearchView) Selected() (conversationID, messageID string) {
	row, _ := sv.GetSelection()
	if idx := row - 1; idx >= 0 && idx < len(sv.data) {
		m := sv.data[idx].Message
		return m.ConversationID, m.ID
	}
	return "", ""
}
