package chat

import "strings"

// Title renders the participants other than self, comma separated.
func (c Chat) Title(self string) string {
	others := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != self {
			others = append(others, p)
		}
	}
	if len(others) == 0 {
		return c.ID
	}
	return strings.Join(others, ", ")
}

// Preview returns the last message text, or empty when none is known.
func (c Chat) Preview() string {
	if c.LastMessage == nil {
		return ""
	}
	return c.LastMessage.Text
}
