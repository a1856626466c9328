package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/huddle/internal/client"
	"github.com/matheus3301/huddle/internal/notify"
	"github.com/matheus3301/huddle/internal/tui/ui"
	"github.com/rivo/tview"
)

type notificationRow struct {
	surface string
	entry   notify.Entry
}

// NotificationsView lists what the toast, native and panel surfaces hold.
type NotificationsView struct {
	*tview.Table
	theme *ui.Theme
	rows  []notificationRow
	now   func() time.Time
}

func NewNotificationsView(theme *ui.Theme) *NotificationsView {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetTitleColor(theme.TitleColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	return &NotificationsView{Table: table, theme: theme, now: time.Now}
}

func (nv *NotificationsView) Name() string { return "Notifications" }

func (nv *NotificationsView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Enter", Description: "Open"}, {Key: "Esc", Description: "Back"}}
}

// Update lists the panel first, then toasts and native notifications.
func (nv *NotificationsView) Update(n client.Notifications) {
	nv.rows = nv.rows[:0]
	for _, group := range []struct {
		surface string
		entries []notify.Entry
	}{
		{notify.SurfacePanel, n.Panel},
		{notify.SurfaceToast, n.Toasts},
		{notify.SurfaceNative, n.Native},
	} {
		for _, e := range group.entries {
			nv.rows = append(nv.rows, notificationRow{surface: group.surface, entry: e})
		}
	}

	nv.Clear()
	for col, h := range []string{" SURFACE", " FROM", " MESSAGE", " AT"} {
		nv.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(nv.theme.TableHeaderFg).
			SetBackgroundColor(nv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}
	for i, r := range nv.rows {
		color := nv.theme.FgColor
		if !r.entry.Hidden {
			color = nv.theme.UnreadColor
		}
		rec := r.entry.Record
		nv.SetCell(i+1, 0, tview.NewTableCell(" "+r.surface).SetTextColor(color))
		nv.SetCell(i+1, 1, tview.NewTableCell(" "+clean(rec.Title())).SetMaxWidth(30).SetTextColor(color))
		nv.SetCell(i+1, 2, tview.NewTableCell(" "+clean(oneLine(rec.Snippet))).SetExpansion(1).SetTextColor(color))
		nv.SetCell(i+1, 3, tview.NewTableCell(" "+formatTime(r.entry.ShownAt, nv.now())).SetTextColor(color))
	}

	title := fmt.Sprintf(" Notifications (%d) ", len(nv.rows))
	if n.Permission != "" {
		title = fmt.Sprintf(" Notifications (%d) native: %s ", len(nv.rows), n.Permission)
	}
	nv.SetTitle(title)
	if len(nv.rows) > 0 {
		nv.Select(1, 0)
	}
}

// Selected returns the surface and record id under the cursor.
func (nv *NotificationsView) Selected() (surface, id string) {
	row, _ := nv.GetSelection()
	if idx := row - 1; idx >= 0 && idx < len(nv.rows) {
		r := nv.rows[idx]
		return r.surface, r.entry.Record.ID
	}
	return "", ""
}
