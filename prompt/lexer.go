package prompt

import (
	"strings"
	"unicode"
)

type segKind int

const (
	segText segKind = iota
	segVar
	segBlock
)

// segment is a run of literal text or the inside of a {{ }} / {% %} tag.
// pos is the byte offset of text in the template source.
type segment struct {
	kind segKind
	text string
	pos  int
}

// splitSegments cuts src into text and tag segments, applying the
// whitespace control markers and dropping comments.
func splitSegments(src string) ([]segment, error) {
	var segs []segment
	pos := 0
	trimNext := false

	emitText := func(text string, at int, trimRight bool) {
		if trimNext {
			trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
			at += len(text) - len(trimmed)
			text = trimmed
		}
		if trimRight {
			text = strings.TrimRightFunc(text, unicode.IsSpace)
		}
		if text != "" {
			segs = append(segs, segment{kind: segText, text: text, pos: at})
		}
	}

	for {
		open := findOpen(src, pos)
		if open < 0 {
			emitText(src[pos:], pos, false)
			return segs, nil
		}

		var closing string
		var kind segKind
		comment := false
		switch src[open+1] {
		case '{':
			closing, kind = "}}", segVar
		case '%':
			closing, kind = "%}", segBlock
		default:
			closing, comment = "#}", true
		}

		start := open + 2
		trimLeft := start < len(src) && src[start] == '-'
		if trimLeft {
			start++
		}

		end := findClose(src, start, closing, !comment)
		if end < 0 {
			return nil, newError(src, open, KindSyntax, "unclosed tag, expected %q", closing)
		}

		contentEnd := end
		trimRight := contentEnd > start && src[contentEnd-1] == '-'
		if trimRight {
			contentEnd--
		}

		emitText(src[pos:open], pos, trimLeft)
		if !comment {
			segs = append(segs, segment{kind: kind, text: src[start:contentEnd], pos: start})
		}

		trimNext = trimRight
		pos = end + 2
	}
}

func findOpen(src string, from int) int {
	for from < len(src)-1 {
		idx := strings.IndexByte(src[from:], '{')
		if idx < 0 {
			return -1
		}
		i := from + idx
		if i+1 < len(src) {
			switch src[i+1] {
			case '{', '%', '#':
				return i
			}
		}
		from = i + 1
	}
	return -1
}

// findClose returns the offset of delim at or after from. Quoted string
// literals are skipped when quoted is set so "}}" inside an argument does
// not end the tag.
func findClose(src string, from int, delim string, quoted bool) int {
	var quote byte
	for i := from; i < len(src)-1; i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		if quoted && (c == '"' || c == '\'') {
			quote = c
			continue
		}
		if c == delim[0] && src[i+1] == delim[1] {
			return i
		}
	}
	return -1
}

type tokType int

const (
	tEOF tokType = iota
	tName
	tString
	tInt
	tFloat
	tOp
)

type token struct {
	typ tokType
	val string // identifier, decoded string literal, number text or operator
	pos int
}

var twoCharOps = []string{"==", "!=", "<=", ">="}

const oneCharOps = "|()[]:,.=<>+-~*/"

// tokenize splits the inside of a tag into expression tokens. Offsets are
// absolute so errors point into the template source.
func tokenize(src string, seg segment) ([]token, error) {
	text := seg.text
	var toks []token
	i := 0
	for i < len(text) {
		c := text[i]
		at := seg.pos + i
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '_' || isLetter(c):
			j := i + 1
			for j < len(text) && (text[j] == '_' || isLetter(text[j]) || isDigit(text[j])) {
				j++
			}
			toks = append(toks, token{typ: tName, val: text[i:j], pos: at})
			i = j
		case isDigit(c):
			j := i + 1
			for j < len(text) && isDigit(text[j]) {
				j++
			}
			typ := tInt
			if j+1 < len(text) && text[j] == '.' && isDigit(text[j+1]) {
				typ = tFloat
				j++
				for j < len(text) && isDigit(text[j]) {
					j++
				}
			}
			toks = append(toks, token{typ: typ, val: text[i:j], pos: at})
			i = j
		case c == '"' || c == '\'':
			val, n, err := readString(text[i:])
			if err != "" {
				return nil, newError(src, at, KindSyntax, "%s", err)
			}
			toks = append(toks, token{typ: tString, val: val, pos: at})
			i += n
		default:
			if i+1 < len(text) {
				pair := text[i : i+2]
				matched := false
				for _, op := range twoCharOps {
					if pair == op {
						toks = append(toks, token{typ: tOp, val: op, pos: at})
						i += 2
						matched = true
						break
					}
				}
				if matched {
					continue
				}
			}
			if strings.IndexByte(oneCharOps, c) >= 0 {
				toks = append(toks, token{typ: tOp, val: string(c), pos: at})
				i++
				continue
			}
			return nil, newError(src, at, KindSyntax, "unexpected character %q", rune(c))
		}
	}
	toks = append(toks, token{typ: tEOF, pos: seg.pos + len(text)})
	return toks, nil
}

// readString decodes a quoted literal at the start of s and returns the
// value and the number of bytes consumed. Unknown escapes are kept as written.
func readString(s string) (string, int, string) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == quote:
			return b.String(), i + 1, ""
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			case '\'':
				b.WriteByte('\'')
			default:
				b.WriteByte('\\')
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", len(s), "unterminated string literal"
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
