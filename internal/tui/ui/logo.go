package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

type Logo struct {
	*tview.TextView
}

func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignRight)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 0, 1)

	title, fg := Tag(theme.TitleColor), Tag(theme.FgColor)
	_, _ = fmt.Fprintf(tv,
		"[%[1]s::b]╷ ╷╷ ╷╶┬╮╶┬╮╷  ╭─╴[-:-:-]\n"+
			"[%[1]s::b]├─┤│ │ ││ ││╎  ├╴ [-:-:-]\n"+
			"[%[1]s::b]╵ ╵╰─╯╶┴╯╶┴╯╰─╴╰─╴[-:-:-]\n"+
			"[%[2]s]messages & notifications[-:-:-]",
		title, fg,
	)
	return &Logo{TextView: tv}
}
