package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  Command
	}{
		{"quit", Command{Name: "quit"}},
		{"q", Command{Name: "quit"}},
		{"  Search  deploy failed ", Command{Name: "search", Args: "deploy failed"}},
		{"s foo", Command{Name: "search", Args: "foo"}},
		{"chat general", Command{Name: "open", Args: "general"}},
		{"read ops", Command{Name: "read", Args: "ops"}},
		{"notifs", Command{Name: "notifications"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.input); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}
