package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// SessionData is what the header shows about the daemon.
type SessionData struct {
	Session       string
	Connection    string
	Unread        int
	Conversations int
	Provisional   bool
	Banner        string
}

// SessionInfo is the header panel with session and connection details.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)
	return &SessionInfo{TextView: tv, theme: theme}
}

func (si *SessionInfo) Update(d SessionData) {
	si.Clear()
	fg, val := Tag(si.theme.FgColor), Tag(si.theme.CounterColor)

	conn := d.Connection
	if conn == "" {
		conn = "unknown"
	}
	unread := fmt.Sprintf("%d", d.Unread)
	if d.Provisional {
		unread += " (syncing)"
	}

	row := func(label, value string) string {
		return fmt.Sprintf("[%s::b]%-8s[-:-:-] [%s]%s[-]\n", fg, label+":", val, tview.Escape(value))
	}
	text := row("Session", d.Session) +
		row("Link", conn) +
		row("Unread", unread) +
		row("Convs", fmt.Sprintf("%d", d.Conversations))
	if d.Banner != "" {
		text += fmt.Sprintf("[%s]%s[-]", Tag(si.theme.FlashWarnColor), tview.Escape(d.Banner))
	}
	_, _ = fmt.Fprint(si, text)
}
