package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestHandleEventPagePrecedence(t *testing.T) {
	r := NewRegistry()
	var got string
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Handler: func() { got = "global" }})
	r.AddPage("thread", &Action{Key: tcell.KeyRune, Rune: 'q', Description: "Back", Handler: func() { got = "page" }})

	ev := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if !r.HandleEvent("thread", ev) || got != "page" {
		t.Fatalf("thread: handled by %q, want page", got)
	}
	if !r.HandleEvent("conversations", ev) || got != "global" {
		t.Fatalf("conversations: handled by %q, want global", got)
	}
	if r.HandleEvent("conversations", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Fatal("unbound key should not be handled")
	}
}

func TestHandleEventSpecialKey(t *testing.T) {
	r := NewRegistry()
	called := false
	r.AddPage("notifications", &Action{Key: tcell.KeyEnter, Label: "Enter", Handler: func() { called = true }})
	if !r.HandleEvent("notifications", tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone)) || !called {
		t.Fatal("Enter binding not triggered")
	}
}

func TestHints(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: '?', Description: "Help"})
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'x', Description: "secret", Hidden: true})
	r.AddPage("thread", &Action{Key: tcell.KeyRune, Rune: 'i', Description: "Compose"})
	r.AddPage("thread", &Action{Key: tcell.KeyEscape, Label: "Esc", Description: "Back"})

	hints := r.Hints("thread")
	want := []string{"i Compose", "Esc Back", "? Help"}
	if len(hints) != len(want) {
		t.Fatalf("got %d hints, want %d: %+v", len(hints), len(want), hints)
	}
	for i, h := range hints {
		if got := h.Key + " " + h.Description; got != want[i] {
			t.Errorf("hint %d = %q, want %q", i, got, want[i])
		}
	}
}
