package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what a submitted prompt means.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
	PromptSearch
)

const historyLimit = 50

// Prompt is the single-line input shown above the page area. Command and
// search submissions are kept in a per-mode history recalled with Up/Down.
type Prompt struct {
	*tview.InputField
	mode     PromptMode
	history  map[PromptMode][]string
	cursor   int
	onSubmit func(mode PromptMode, text string)
	onCancel func()
}

func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{InputField: input, history: make(map[PromptMode][]string)}
	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			p.submit()
		case tcell.KeyEscape:
			p.SetText("")
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})
	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyUp:
			p.Recall(-1)
			return nil
		case tcell.KeyDown:
			p.Recall(1)
			return nil
		}
		return ev
	})
	return p
}

func (p *Prompt) submit() {
	text := p.GetText()
	p.SetText("")
	p.remember(text)
	if p.onSubmit != nil {
		p.onSubmit(p.mode, text)
	}
}

// remember appends text to the mode's history. Filters change with every
// keystroke and are not recorded.
func (p *Prompt) remember(text string) {
	if text == "" || p.mode == PromptFilter {
		return
	}
	h := p.history[p.mode]
	if n := len(h); n > 0 && h[n-1] == text {
		return
	}
	h = append(h, text)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	p.history[p.mode] = h
}

// Recall moves through the current mode's history by delta (-1 older, 1
// newer). Moving past the newest entry clears the field.
func (p *Prompt) Recall(delta int) {
	h := p.history[p.mode]
	if len(h) == 0 {
		return
	}
	p.cursor = min(max(p.cursor+delta, 0), len(h))
	if p.cursor == len(h) {
		p.SetText("")
		return
	}
	p.SetText(h[p.cursor])
}

// History returns the recorded entries for mode, oldest first.
func (p *Prompt) History(mode PromptMode) []string {
	return append([]string(nil), p.history[mode]...)
}

// SetOnSubmit sets the Enter callback. An empty filter submission clears the
// filter, so empty text is passed through.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// Activate resets the prompt into mode.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.cursor = len(p.history[mode])
	p.SetText("")
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter ")
	case PromptSearch:
		p.SetLabel("?")
		p.SetTitle(" Search archive ")
	}
}

func (p *Prompt) Mode() PromptMode {
	return p.mode
}
