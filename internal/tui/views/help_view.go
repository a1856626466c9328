package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/huddle/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView is the key and command reference.
type HelpView struct {
	*tview.TextView
}

func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)
	_, _ = fmt.Fprint(tv, helpText(ui.Tag(theme.MenuKeyColor)))
	return &HelpView{TextView: tv}
}

func (hv *HelpView) Name() string { return "Help" }

func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}

var helpSections = []struct {
	title string
	rows  [][2]string
}{
	{"Global", [][2]string{
		{":", "Command prompt"},
		{"/", "Filter conversations"},
		{"n", "Notifications"},
		{"?", "This help"},
		{"Esc", "Back"},
		{"Ctrl-C", "Quit"},
	}},
	{"Conversations", [][2]string{
		{"Enter", "Open conversation"},
		{"1-9", "Open the Nth conversation"},
		{"d", "Details"},
		{"m", "Mark read"},
	}},
	{"Thread", [][2]string{
		{"i", "Focus the composer"},
		{"Enter", "Send (in the composer)"},
		{"r", "Retry the last failed message"},
		{"o", "Load older messages"},
		{"d", "Details"},
	}},
	{"Notifications", [][2]string{
		{"Enter", "Open its conversation"},
		{"x", "Dismiss"},
		{"c", "Clear the panel"},
	}},
	{"Commands", [][2]string{
		{":search <text>", "Search the archive"},
		{":open <name>", "Open a conversation by name or id"},
		{":read <name>", "Mark a conversation read"},
		{":notifications", "Notifications"},
		{":clear", "Clear the notification panel"},
		{":help", "This help"},
		{":quit", "Quit"},
	}},
}

func helpText(keyColor string) string {
	var b strings.Builder
	for _, s := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, r := range s.rows {
			fmt.Fprintf(&b, "  [%s]%-16s[-:-:-] %s\n", keyColor, tview.Escape(r[0]), r[1])
		}
	}
	return b.String()
}
