package tui

import "strings"

// Command is a slash command typed into the chat input
type Command struct {
	Name string
	Arg  string
}

// ParseCommand splits "/name arg" into its parts. ok is false for plain
// chat text.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}

	name, arg, _ := strings.Cut(text[1:], " ")
	return Command{
		Name: strings.ToLower(name),
		Arg:  strings.TrimSpace(arg),
	}, true
}
