package directive_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"

	"github.com/niallgpt/niallgpt/internal/app/directive"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want directive.Result
	}{
		{
			name: "plain text",
			raw:  "  Just an answer.\n",
			want: directive.Result{CleanText: "Just an answer."},
		},
		{
			name: "memory then suggestions",
			raw:  "Done.\n[NiallGPT_Remember: user likes tea]\n[NiallGPT_Suggestions: \"More tea facts\" | \"Tea recipes\"]",
			want: directive.Result{
				CleanText:   "Done.",
				Suggestions: []string{"More tea facts", "Tea recipes"},
				SideEffects: directive.SideEffects{MemoryWrites: []string{"user likes tea"}},
			},
		},
		{
			name: "suggestions then memory",
			raw:  "Done.\n[NiallGPT_Suggestions: \"A\" | \"B\"]\n[NiallGPT_Remember: has a dog]\n",
			want: directive.Result{
				CleanText:   "Done.",
				Suggestions: []string{"A", "B"},
				SideEffects: directive.SideEffects{MemoryWrites: []string{"has a dog"}},
			},
		},
		{
			name: "several memory writes keep order",
			raw:  "[NiallGPT_Remember: one] text [NiallGPT_Remember: two]",
			want: directive.Result{
				CleanText:   "text",
				SideEffects: directive.SideEffects{MemoryWrites: []string{"one", "two"}},
			},
		},
		{
			name: "last suggestions marker wins",
			raw:  "x [NiallGPT_Suggestions: \"old\"] [NiallGPT_Suggestions: \"new\" | \"newer\"]",
			want: directive.Result{
				CleanText:   "x",
				Suggestions: []string{"new", "newer"},
			},
		},
		{
			name: "unquoted suggestions",
			raw:  "ok [NiallGPT_Suggestions: first | second ]",
			want: directive.Result{
				CleanText:   "ok",
				Suggestions: []string{"first", "second"},
			},
		},
		{
			name: "brackets inside a memory body",
			raw:  "Noted.\n[NiallGPT_Remember: favourite array is [1,2]]\n[NiallGPT_Suggestions: \"Sort [1,2]\" | \"Reverse it\"]",
			want: directive.Result{
				CleanText:   "Noted.",
				Suggestions: []string{"Sort [1,2]", "Reverse it"},
				SideEffects: directive.SideEffects{MemoryWrites: []string{"favourite array is [1,2]"}},
			},
		},
		{
			name: "nested markers inline",
			raw:  "a [NiallGPT_Remember: likes [x] and [y]] b",
			want: directive.Result{
				CleanText:   "a  b",
				SideEffects: directive.SideEffects{MemoryWrites: []string{"likes [x] and [y]"}},
			},
		},
		{
			name: "unbalanced marker stays visible",
			raw:  "Stopped [NiallGPT_Remember: list [1,2",
			want: directive.Result{CleanText: "Stopped [NiallGPT_Remember: list [1,2"},
		},
		{
			name: "unterminated marker stays visible",
			raw:  "Partial answer [NiallGPT_Remember: user li",
			want: directive.Result{CleanText: "Partial answer [NiallGPT_Remember: user li"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := directive.Parse(tt.raw)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetectFile(t *testing.T) {
	kind, text := directive.DetectFile("# Report\n\nBody text\n[NiallGPT_File:PDF]\n")
	assert.Equal(t, directive.FilePDF, kind)
	assert.Equal(t, "# Report\n\nBody text", text)

	kind, text = directive.DetectFile("<html></html>[NiallGPT_File:HTML]")
	assert.Equal(t, directive.FileHTML, kind)
	assert.Equal(t, "<html></html>", text)

	// marker must be trailing
	in := "[NiallGPT_File:TXT] then more words"
	kind, text = directive.DetectFile(in)
	assert.Equal(t, directive.FileNone, kind)
	assert.Equal(t, in, text)

	assert.Equal(t, "[NiallGPT_File:PPT]", directive.FileMarker(directive.FilePPT))
	assert.Empty(t, directive.FileMarker(directive.FileNone))
}

func TestBuildSystemInstruction(t *testing.T) {
	got := directive.BuildSystemInstruction(directive.Persona{
		UserName:   "Niall",
		AIBehavior: "Answer like a pirate.",
		Memory:     []string{"user likes tea", "lives in Dublin"},
	})

	for _, want := range []string{
		"[NiallGPT_Remember:",
		"[NiallGPT_Suggestions:",
		"[NiallGPT_File:PDF]",
		"The user's name is Niall.",
		"Answer like a pirate.",
		"- user likes tea\n- lives in Dublin",
	} {
		assert.True(t, strings.Contains(got, want), "missing %q", want)
	}

	bare := directive.BuildSystemInstruction(directive.Persona{})
	assert.NotContains(t, bare, "Things you remember")
	assert.NotContains(t, bare, "The user's name")
}
