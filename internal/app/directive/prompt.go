package directive

import (
	"fmt"
	"strings"
)

const baseInstruction = `
You are "NiallGPT", a helpful, friendly and knowledgeable AI assistant.

General style guidelines:
- Answer in the SAME LANGUAGE as the user.
- Use Markdown for structure when it helps (lists, tables, code blocks).
- Be accurate; say so when you are unsure instead of guessing.
`

const directiveInstruction = `
Special directives (the app hides them from the user):
- When the user shares a durable personal fact or preference worth remembering across chats,
  append on its own line: [` + rememberTag + `: <the fact>]
- At the end of every answer, append 2-3 short follow-up prompts the user might send next:
  [` + suggestionsTag + `: "<first>" | "<second>" | "<third>"]
- When the user asks for a downloadable document, write the full document content and end
  your answer with exactly one of these markers as the very last text:
  %s
`

// Persona is everything the system instruction is built from.
type Persona struct {
	UserName   string
	AIBehavior string
	Memory     []string
}

// BuildSystemInstruction renders the system instruction sent with every
// streaming turn. The directive syntax here must match what Parse reads.
func BuildSystemInstruction(p Persona) string {
	var b strings.Builder
	b.WriteString(baseInstruction)

	markers := make([]string, 0, len(fileMarkers))
	for _, fm := range fileMarkers {
		markers = append(markers, fmt.Sprintf("%s (%s)", fm.marker, strings.ToUpper(string(fm.kind))))
	}
	fmt.Fprintf(&b, directiveInstruction, strings.Join(markers, ", "))

	if name := strings.TrimSpace(p.UserName); name != "" {
		fmt.Fprintf(&b, "\nThe user's name is %s.\n", name)
	}

	if behavior := strings.TrimSpace(p.AIBehavior); behavior != "" {
		b.WriteString("\nFollow these behaviour instructions from the user:\n")
		b.WriteString(behavior)
		b.WriteString("\n")
	}

	if len(p.Memory) > 0 {
		b.WriteString("\nThings you remember about the user:\n")
		for _, m := range p.Memory {
			b.WriteString("- ")
			b.WriteString(m)
			b.WriteString("\n")
		}
	}

	return b.String()
}
