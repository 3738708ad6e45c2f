package stream

import (
	"fmt"

	"github.com/niallgpt/niallgpt/internal/domain"
)

// MergeFileContext places a text file's content ahead of the user's own
// words in a single text part. Send and history replay both use it so a
// resent turn is byte-identical.
func MergeFileContext(att *domain.Attachment, text string) string {
	header := fmt.Sprintf("Content of the attached file %q:\n```\n%s\n```", att.Name, att.Content)
	if text == "" {
		return header
	}
	return header + "\n\n" + text
}

// BuildParts turns a user's text and optional attachment into turn parts:
// text first, then the binary payload. Text files are merged into the text.
func BuildParts(text string, att *domain.Attachment) []domain.Part {
	if att.IsText() {
		return []domain.Part{{Text: MergeFileContext(att, text)}}
	}

	var parts []domain.Part
	if text != "" {
		parts = append(parts, domain.Part{Text: text})
	}
	if att != nil {
		if mimeType, data, err := domain.ParseDataURL(att.Content); err == nil {
			if mimeType == "" {
				mimeType = att.Type
			}
			parts = append(parts, domain.Part{Data: data, MIMEType: mimeType})
		}
	}
	return parts
}

// BuildHistory converts stored messages into collaborator turns. In-flight
// placeholders are never replayed and messages without content are skipped.
func BuildHistory(msgs []*domain.Message) []domain.Turn {
	turns := make([]domain.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.IsLoading {
			continue
		}

		role := domain.RoleUser
		if m.Sender == domain.SenderAI {
			role = domain.RoleModel
		}

		parts := BuildParts(m.Text, m.Attachment)
		if len(parts) == 0 {
			continue
		}
		turns = append(turns, domain.Turn{Role: role, Parts: parts})
	}
	return turns
}
