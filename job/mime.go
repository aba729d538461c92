package job

import (
	"mime"
	"path/filepath"
	"strings"
)

// Accepted document types. PDF is not accepted.
const (
	MIMEMarkdown = "text/markdown"
	MIMEPlain    = "text/plain"
	MIMEDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// AcceptedTypes lists the document types a job may read or produce
var AcceptedTypes = []string{MIMEMarkdown, MIMEPlain, MIMEDocx}

var extensionTypes = map[string]string{
	".md":       MIMEMarkdown,
	".markdown": MIMEMarkdown,
	".txt":      MIMEPlain,
	".text":     MIMEPlain,
	".docx":     MIMEDocx,
}

// BaseType strips parameters such as "; charset=utf-8" and lowercases
func BaseType(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mediaType
}

// IsAcceptedType reports whether mimeType, ignoring parameters, is accepted.
// The same check applies to input and output files.
func IsAcceptedType(mimeType string) bool {
	base := BaseType(mimeType)
	for _, t := range AcceptedTypes {
		if base == t {
			return true
		}
	}
	return false
}

// TypeForName guesses the document type from a file name. It returns ""
// for unknown extensions.
func TypeForName(name string) string {
	return extensionTypes[strings.ToLower(filepath.Ext(name))]
}

// OutputName derives the translated file name: "report.md" becomes
// "report-translated.md".
func OutputName(inputName string) string {
	base := filepath.Base(inputName)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}
	return stem + "-translated" + ext
}
