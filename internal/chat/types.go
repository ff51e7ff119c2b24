package chat

// Summary is the lastMessage preview carried on a Chat. Every field is optional
// because the server sends nulls for chats without messages.
type Summary struct {
	Sender    string     `json:"sender,omitempty"`
	Text      string     `json:"text,omitempty"`
	Timestamp *Timestamp `json:"timestamp,omitempty"`
}

// Chat is a conversation between two or more participants.
type Chat struct {
	ID           string   `json:"chatId" validate:"required"`
	Participants []string `json:"participants"`
	LastMessage  *Summary `json:"lastMessage,omitempty"`
}

// Message is a single confirmed message inside a chat.
type Message struct {
	ID        string    `json:"messageId" validate:"required"`
	ChatID    string    `json:"chatId" validate:"required"`
	Sender    string    `json:"sender" validate:"required"`
	Text      string    `json:"text" validate:"required"`
	Timestamp Timestamp `json:"timestamp"`
}

// History is the full transcript returned for one chat.
type History struct {
	ChatID   string    `json:"chatId" validate:"required"`
	Messages []Message `json:"messages" validate:"dive"`
}

// Credential is the bearer token plus the user it was issued to.
type Credential struct {
	Token string
	User  string
}

// Valid reports whether the credential carries a token.
func (c Credential) Valid() bool {
	return c.Token != ""
}

// Summarize builds the lastMessage preview for m.
func (m Message) Summarize() *Summary {
	ts := m.Timestamp
	return &Summary{Sender: m.Sender, Text: m.Text, Timestamp: &ts}
}

// Clone returns a deep copy so callers can't mutate engine-owned state.
func (c Chat) Clone() Chat {
	out := c
	if c.Participants != nil {
		out.Participants = append([]string(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		if lm.Timestamp != nil {
			ts := *lm.Timestamp
			lm.Timestamp = &ts
		}
		out.LastMessage = &lm
	}
	return out
}
