package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/huddle/internal/store"
	"github.com/matheus3301/huddle/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread shows one conversation with a composer below it.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	name     string
	onSend   func(text string)
	now      func() time.Time
}

func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{Flex: flex, theme: theme, messages: messages, composer: composer, now: time.Now}
	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		if text := composer.GetText(); text != "" {
			composer.SetText("")
			mt.onSend(text)
		}
	})
	return mt
}

func (mt *MessageThread) Name() string {
	if mt.name != "" {
		return mt.name
	}
	return "Messages"
}

func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}

func (mt *MessageThread) SetConversation(name string) {
	mt.name = name
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(name)))
}

func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update redraws msgs, oldest first. The view follows the bottom unless
// keepOffset is set (after loading older history).
func (mt *MessageThread) Update(msgs []store.Message, keepOffset bool) {
	row, col := mt.messages.GetScrollOffset()
	mt.messages.Clear()
	_, _ = fmt.Fprint(mt.messages, mt.format(msgs))
	if keepOffset {
		mt.messages.ScrollTo(row, col)
		return
	}
	mt.messages.ScrollToEnd()
}

func (mt *MessageThread) format(msgs []store.Message) string {
	var out strings.Builder
	for _, m := range msgs {
		sender := m.Sender.Name
		if sender == "" {
			sender = m.Sender.ID
		}
		color := mt.theme.CounterColor
		if m.Mine {
			sender = "You"
			color = mt.theme.MineColor
		}
		ts := formatStamp(m.CreatedAt, mt.now())

		header := fmt.Sprintf("[%s::b]%s[-:-:-] [::d]%s[-:-:-]", ui.Tag(color), clean(sender), ts)
		if m.Mine {
			header += " " + mt.statusMark(m.Status)
		}
		body := clean(m.Content)
		switch m.Kind {
		case store.ContentImage, store.ContentFile:
			for _, a := range m.Attachments {
				body += fmt.Sprintf("\n[::d](%s: %s)[-:-:-]", m.Kind, clean(a.Name))
			}
		case store.ContentSystem, store.ContentAnnouncement:
			body = "[::i]" + body + "[-:-:-]"
		}
		if m.ReplyTo != nil {
			body = fmt.Sprintf("[::d]> %s: %s[-:-:-]\n%s", clean(m.ReplyTo.SenderName), clean(oneLine(m.ReplyTo.Snippet)), body)
		}
		out.WriteString(header + "\n" + body + "\n\n")
	}
	return out.String()
}

func (mt *MessageThread) statusMark(s store.DeliveryStatus) string {
	switch s {
	case store.StatusSending:
		return "[::d]…[-:-:-]"
	case store.StatusSent:
		return "[::d]✓[-:-:-]"
	case store.StatusDelivered:
		return "[::d]✓✓[-:-:-]"
	case store.StatusRead:
		return fmt.Sprintf("[%s]✓✓[-]", ui.Tag(mt.theme.MineColor))
	case store.StatusFailed:
		return fmt.Sprintf("[%s::b]failed, r to retry[-:-:-]", ui.Tag(mt.theme.FailedColor))
	}
	return ""
}

func (mt *MessageThread) Messages() *tview.TextView { return mt.messages }

func (mt *MessageThread) Composer() *tview.InputField { return mt.composer }
