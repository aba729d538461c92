package translate

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
)

const codeFence = "```"

// ParagraphChunker splits plain text and markdown into blank-line separated
// blocks. A fenced code block stays one chunk, even across blank lines, and
// is passed through untranslated.
type ParagraphChunker struct {
	Blobs Blobs
}

// Chunk reads file from blob storage and splits it
func (c *ParagraphChunker) Chunk(ctx context.Context, file job.FileRef) ([]string, error) {
	data, err := c.Blobs.Read(ctx, file.Key)
	if err != nil {
		return nil, &ChunkingError{File: file, Err: err}
	}
	if !utf8.Valid(data) {
		return nil, &ChunkingError{File: file, Err: errors.New("document is not valid UTF-8 text")}
	}
	return SplitParagraphs(string(data)), nil
}

// Passthrough reports fenced code blocks
func (c *ParagraphChunker) Passthrough(chunk string) bool {
	return isFenced(chunk)
}

// SplitParagraphs splits text into blocks separated by blank lines. Line
// endings are normalized to \n and blocks are trimmed of surrounding blank
// lines; indentation inside a block is kept.
func SplitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")

	var blocks []string
	var cur []string
	inFence := false

	flush := func() {
		if len(cur) == 0 {
			return
		}
		block := strings.Trim(strings.Join(cur, "\n"), "\n")
		if strings.TrimSpace(block) != "" {
			blocks = append(blocks, block)
		}
		cur = cur[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, codeFence) {
			if !inFence {
				flush()
				inFence = true
				cur = append(cur, line)
				continue
			}
			cur = append(cur, line)
			inFence = false
			flush()
			continue
		}
		if inFence {
			cur = append(cur, line)
			continue
		}
		if trimmed == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return blocks
}

func isFenced(chunk string) bool {
	return strings.HasPrefix(strings.TrimSpace(chunk), codeFence)
}

// ParagraphAssembler joins translated blocks with blank lines and ends the
// document with a newline
type ParagraphAssembler struct{}

// Assemble implements Assembler
func (ParagraphAssembler) Assemble(_ context.Context, chunks []string) ([]byte, error) {
	if len(chunks) == 0 {
		return []byte{}, nil
	}
	trimmed := make([]string, len(chunks))
	for i, c := range chunks {
		trimmed[i] = strings.Trim(c, "\n")
	}
	return []byte(strings.Join(trimmed, "\n\n") + "\n"), nil
}
