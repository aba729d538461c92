package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrorKind classifies template failures
type ErrorKind string

const (
	KindSyntax           ErrorKind = "syntax"
	KindUndefined        ErrorKind = "undefined"
	KindUnknownFilter    ErrorKind = "unknown_filter"
	KindInvalidOperation ErrorKind = "invalid_operation"
)

// TemplateError is returned by Parse, Render and Execute. Line and Col are
// 1-based and point into the template source; both are 0 when the failure
// has no position (an unsupported variable type, for example).
type TemplateError struct {
	Kind ErrorKind
	Msg  string
	Line int
	Col  int
}

func (e *TemplateError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("template %s error: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("template %s error at line %d, column %d: %s", e.Kind, e.Line, e.Col, e.Msg)
}

func newError(src string, offset int, kind ErrorKind, format string, args ...interface{}) *TemplateError {
	line, col := position(src, offset)
	return &TemplateError{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
		Line: line,
		Col:  col,
	}
}

// position converts a byte offset into a 1-based line and rune column
func position(src string, offset int) (int, int) {
	if offset < 0 {
		return 0, 0
	}
	if offset > len(src) {
		offset = len(src)
	}
	before := src[:offset]
	line := strings.Count(before, "\n") + 1
	lineStart := strings.LastIndexByte(before, '\n') + 1
	return line, utf8.RuneCountInString(before[lineStart:]) + 1
}
