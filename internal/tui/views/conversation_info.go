package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/huddle/internal/store"
	"github.com/matheus3301/huddle/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo shows the details of one conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Details ")
	tv.SetTitleColor(theme.TitleColor)
	return &ConversationInfo{TextView: tv, theme: theme}
}

func (ci *ConversationInfo) Name() string { return "Details" }

func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}

func (ci *ConversationInfo) Update(c store.Conversation) {
	ci.Clear()
	fg, val := ui.Tag(ci.theme.FgColor), ui.Tag(ci.theme.CounterColor)

	lastActive, last := "-", "-"
	if c.Last != nil {
		lastActive = c.Last.At.Local().Format(time.DateTime)
		last = oneLine(c.Last.Content)
		if c.Last.Sender != "" {
			last = c.Last.Sender + ": " + last
		}
	}
	members := "-"
	if len(c.Participants) > 0 {
		members = strings.Join(c.Participants, ", ")
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, row := range [][2]string{
		{"Name", c.Name},
		{"ID", c.ID},
		{"Kind", string(c.Kind)},
		{"Unread", fmt.Sprintf("%d", c.Unread)},
		{"Members", members},
		{"Last Active", lastActive},
		{"Last Message", last},
	} {
		fmt.Fprintf(&b, " [%s::b]%-13s[-:-:-] [%s]%s[-]\n", fg, row[0]+":", val, clean(row[1]))
	}
	_, _ = fmt.Fprint(ci, b.String())
	ci.SetTitle(fmt.Sprintf(" %s ", tview.Escape(c.Name)))
}
