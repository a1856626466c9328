package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	t.Setenv("HUDDLE_HOME", "/tmp/h")
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "main", false},
		{"digits", "work123", false},
		{"hyphen", "my-session", false},
		{"underscore", "my_session", false},
		{"single char", "a", false},
		{"max length", strings.Repeat("a", 32), false},
		{"empty", "", true},
		{"leading hyphen", "-main", true},
		{"uppercase", "Main", true},
		{"space", "my session", true},
		{"dot", "my.session", true},
		{"too long", strings.Repeat("a", 33), true},
		{"slash", "my/session", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("error %v does not wrap ErrInvalidName", err)
			}
		})
	}
}

func TestValidateNameSocketLength(t *testing.T) {
	t.Setenv("HUDDLE_HOME", "/tmp/"+strings.Repeat("d", 70))
	if err := ValidateName("a"); err != nil {
		t.Fatalf("short name under long home: %v", err)
	}
	if err := ValidateName(strings.Repeat("b", 20)); err == nil {
		t.Fatal("expected socket path length error")
	}
}

func TestList(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HUDDLE_HOME", home)

	names, err := List()
	if err != nil || len(names) != 0 {
		t.Fatalf("List with no sessions dir = %v, %v", names, err)
	}

	for _, n := range []string{"work", "main"} {
		if err := EnsureDir(n); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(home, "sessions", "stray.txt"), nil, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(home, "sessions", "Bad.Name"), 0700); err != nil {
		t.Fatal(err)
	}

	names, err = List()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "main,work" {
		t.Fatalf("List = %v, want [main work]", names)
	}
}
