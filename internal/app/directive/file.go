package directive

import "strings"

// FileType is the downloadable payload type signalled by a trailing marker.
type FileType string

const (
	FileNone FileType = ""
	FilePDF  FileType = "pdf"
	FileTXT  FileType = "txt"
	FileHTML FileType = "html"
	FilePPT  FileType = "ppt"
)

var fileMarkers = []struct {
	marker string
	kind   FileType
}{
	{"[NiallGPT_File:PDF]", FilePDF},
	{"[NiallGPT_File:TXT]", FileTXT},
	{"[NiallGPT_File:HTML]", FileHTML},
	{"[NiallGPT_File:PPT]", FilePPT},
}

// DetectFile checks whether text ends with a file marker. It returns the
// signalled type and the text with the marker removed; text is returned
// unchanged when no marker is present. Run it on already-parsed text at
// render time: the marker must be the literal last content.
func DetectFile(text string) (FileType, string) {
	trimmed := strings.TrimRight(text, " \t\r\n")
	for _, fm := range fileMarkers {
		if strings.HasSuffix(trimmed, fm.marker) {
			return fm.kind, strings.TrimSpace(strings.TrimSuffix(trimmed, fm.marker))
		}
	}
	return FileNone, text
}

// FileMarker returns the sentinel for a file type, or "" for FileNone.
func FileMarker(kind FileType) string {
	for _, fm := range fileMarkers {
		if fm.kind == kind {
			return fm.marker
		}
	}
	return ""
}
