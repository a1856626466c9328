package tui

import "strings"

// Command is a parsed ":" prompt line.
type Command struct {
	Name string
	Args string
}

var commandAliases = map[string]string{
	"q":      "quit",
	"q!":     "quit",
	"h":      "help",
	"s":      "search",
	"o":      "open",
	"chat":   "open",
	"n":      "notifications",
	"notifs": "notifications",
}

// ParseCommand parses input without its leading ':'. Names are lowercased
// and aliases resolved.
func ParseCommand(input string) Command {
	name, args, _ := strings.Cut(strings.TrimSpace(input), " ")
	name = strings.ToLower(name)
	if full, ok := commandAliases[name]; ok {
		name = full
	}
	return Command{Name: name, Args: strings.TrimSpace(args)}
}
