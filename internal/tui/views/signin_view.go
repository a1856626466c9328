package views

import (
	"fmt"

	"github.com/matheus3301/huddle/internal/client"
	"github.com/matheus3301/huddle/internal/tui/ui"
	"github.com/rivo/tview"
)

// SignInView asks the user to sign in again after the backend rejected the
// session's token.
type SignInView struct {
	*tview.TextView
}

func NewSignInView(theme *ui.Theme) *SignInView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Sign-in Required ")
	tv.SetTitleColor(theme.TitleColor)
	return &SignInView{TextView: tv}
}

func (sv *SignInView) Name() string { return "Sign in" }

func (sv *SignInView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}

// Show renders url as a QR code when there is one, otherwise the token
// instructions alone.
func (sv *SignInView) Show(reason, url string) {
	sv.Clear()
	_, _ = fmt.Fprintf(sv, "\n%s\n\n", tview.Escape(reason))
	if url != "" {
		if qr, err := client.RenderQR(url); err == nil {
			_, _ = fmt.Fprintf(sv, "Scan to sign in:\n\n%s\n%s\n\n", qr, tview.Escape(url))
		}
	}
	_, _ = fmt.Fprint(sv, "[::d]Then store the new token with: huddlectl signin --token <token>\nand restart huddled.[-:-:-]")
}
