package domain

import "strings"

// Attachment is a file staged with a user turn. Content is a data URL for
// images and raw text for text files, kept so edit/regenerate can resend it.
type Attachment struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PreviewURL string `json:"previewUrl,omitempty"`
	Content    string `json:"content"`
}

// IsImage reports whether the attachment carries an image payload.
func (a *Attachment) IsImage() bool {
	return a != nil && strings.HasPrefix(a.Type, "image/")
}

// IsText reports whether the attachment content is plain text that gets
// merged into the turn's text part.
func (a *Attachment) IsText() bool {
	if a == nil || a.IsImage() {
		return false
	}
	return strings.HasPrefix(a.Type, "text/") ||
		a.Type == "application/json" ||
		a.Type == "application/xml" ||
		a.Type == "application/javascript"
}

// Citation is one grounding source attached to a streamed answer.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// Message is one entry in a session's timeline (user or AI)
type Message struct {
	ID        MessageID `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp Timestamp `json:"timestamp"`

	Attachment      *Attachment `json:"attachment,omitempty"`
	IsEdited        bool        `json:"isEdited,omitempty"`
	OriginalText    string      `json:"originalText,omitempty"`
	IsLoading       bool        `json:"isLoading,omitempty"`
	GroundingChunks []Citation  `json:"groundingChunks,omitempty"`
	Suggestions     []string    `json:"suggestions,omitempty"`
	ImageURL        string      `json:"imageUrl,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.Attachment != nil {
		att := *m.Attachment
		out.Attachment = &att
	}
	out.GroundingChunks = append([]Citation(nil), m.GroundingChunks...)
	out.Suggestions = append([]string(nil), m.Suggestions...)
	return &out
}

// Session is one chat: an ordered message list plus per-session persona overrides.
type Session struct {
	ID        SessionID  `json:"id"`
	Name      string     `json:"name"`
	Messages  []*Message `json:"messages"`
	Timestamp Timestamp  `json:"timestamp"`

	SessionUserName   string `json:"sessionUserName,omitempty"`
	SessionAIBehavior string `json:"sessionAiBehavior,omitempty"`
}

// Clone deep-copies the session and its messages.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = CloneMessages(s.Messages)
	return &out
}

// CloneMessages deep-copies a message list.
func CloneMessages(msgs []*Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Clone())
	}
	return out
}

// IndexOf returns the position of the message with the given id, or -1.
func IndexOf(msgs []*Message, id MessageID) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}
