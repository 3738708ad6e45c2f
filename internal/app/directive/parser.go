// Package directive implements the side-channel convention between the system
// instruction and the model output: memory writes, follow-up suggestions and
// downloadable-file markers embedded in the response text.
package directive

import (
	"regexp"
	"strings"
)

const (
	rememberTag    = "NiallGPT_Remember"
	suggestionsTag = "NiallGPT_Suggestions"
)

var quotedRe = regexp.MustCompile(`"([^"]*)"`)

// SideEffects are actions the caller must apply after parsing.
type SideEffects struct {
	MemoryWrites []string
}

type Result struct {
	CleanText   string
	Suggestions []string
	SideEffects SideEffects
}

// Parse strips every well-formed directive from raw. Partial markers (e.g.
// from a cancelled stream) do not match and stay in CleanText. Bodies may
// contain balanced brackets, so "[NiallGPT_Remember: uses [1,2]]" records
// "uses [1,2]".
func Parse(raw string) Result {
	var res Result

	text := stripMarkers(raw, suggestionsTag, func(body string) {
		// last marker wins
		res.Suggestions = parseSuggestions(body)
	})

	text = stripMarkers(text, rememberTag, func(body string) {
		if body = strings.TrimSpace(body); body != "" {
			res.SideEffects.MemoryWrites = append(res.SideEffects.MemoryWrites, body)
		}
	})

	res.CleanText = strings.TrimSpace(text)
	return res
}

// stripMarkers removes every "[tag:body]" from text, calling fn with each
// body in order. The closing bracket is the one that balances the opening
// bracket; an unbalanced marker is left as is.
func stripMarkers(text, tag string, fn func(body string)) string {
	open := "[" + tag + ":"

	var b strings.Builder
	for {
		i := strings.Index(text, open)
		if i < 0 {
			break
		}
		end := closingBracket(text, i)
		if end < 0 {
			break
		}
		b.WriteString(text[:i])
		fn(text[i+len(open) : end])
		text = text[end+1:]
	}
	b.WriteString(text)
	return b.String()
}

// closingBracket returns the index of the bracket closing the one at start,
// or -1.
func closingBracket(text string, start int) int {
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseSuggestions(body string) []string {
	var out []string

	quoted := quotedRe.FindAllStringSubmatch(body, -1)
	if len(quoted) > 0 {
		for _, m := range quoted {
			if s := strings.TrimSpace(m[1]); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	// tolerate unquoted lists
	for _, item := range strings.Split(body, "|") {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
