package sync

import "github.com/matheus3301/chatsync/internal/chat"

func indexOf(chats []chat.Chat, id string) int {
	for i := range chats {
		if chats[i].ID == id {
			return i
		}
	}
	return -1
}

func prepend(chats []chat.Chat, c chat.Chat) []chat.Chat {
	out := make([]chat.Chat, 0, len(chats)+1)
	out = append(out, c)
	return append(out, chats...)
}

// moveToFront replaces chats[i] with c and moves it to index 0, keeping the
// relative order of the rest.
func moveToFront(chats []chat.Chat, i int, c chat.Chat) []chat.Chat {
	copy(chats[1:i+1], chats[:i])
	chats[0] = c
	return chats
}

// newer reports whether m is at least as recent as the summary.
func newer(m chat.Message, s *chat.Summary) bool {
	if s == nil || s.Timestamp == nil {
		return true
	}
	return !m.Timestamp.Before(s.Timestamp.Time)
}

// later returns the more recent of two summaries.
func later(a, b *chat.Summary) *chat.Summary {
	switch {
	case a == nil || a.Timestamp == nil:
		return b
	case b == nil || b.Timestamp == nil:
		return a
	case a.Timestamp.After(b.Timestamp.Time):
		return a
	default:
		return b
	}
}

// mergeSnapshot replaces local with snap, except that chats touched by push
// while the snapshot was in flight stay at the front in their local order.
// A pushed chat also present in snap keeps whichever lastMessage is newer.
func mergeSnapshot(local []chat.Chat, pushed map[string]bool, snap []chat.Chat) []chat.Chat {
	bySnap := make(map[string]int, len(snap))
	for i, c := range snap {
		if _, dup := bySnap[c.ID]; !dup {
			bySnap[c.ID] = i
		}
	}

	out := make([]chat.Chat, 0, len(snap)+len(pushed))
	placed := make(map[string]bool, len(snap)+len(pushed))
	for _, c := range local {
		if !pushed[c.ID] || placed[c.ID] {
			continue
		}
		if j, ok := bySnap[c.ID]; ok {
			fresh := snap[j]
			fresh.LastMessage = later(c.LastMessage, fresh.LastMessage)
			c = fresh
		}
		out = append(out, c)
		placed[c.ID] = true
	}
	for _, c := range snap {
		if placed[c.ID] {
			continue
		}
		out = append(out, c)
		placed[c.ID] = true
	}
	return out
}
