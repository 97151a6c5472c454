package rag

import (
	"strings"
	"unicode/utf8"
)

// Chunker splits document text into overlapping, order-preserving chunks.
// Boundaries prefer paragraph breaks, then sentence ends, then whitespace,
// so chunks stay readable for prompt context.
type Chunker struct {
	Size    int // target chunk size in characters
	Overlap int // characters repeated between adjacent chunks
}

func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split returns the chunks of text in document order. The same input always
// produces the same chunks.
func (c Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.Size
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.breakPoint(text, start, end)
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(text) {
			break
		}
		next := runeFloor(text, end-c.Overlap)
		if next <= start {
			_, w := utf8.DecodeRuneInString(text[start:])
			next = start + w
		}
		start = next
	}
	return chunks
}

// breakPoint finds the best split position in text[start:limit], searching
// only the back half of the window so chunks stay near the target size.
func (c Chunker) breakPoint(text string, start, limit int) int {
	window := text[start:limit]
	floor := len(window) / 2

	if idx := strings.LastIndex(window, "\n\n"); idx > floor {
		return start + idx
	}
	for _, sep := range []string{". ", ".\n", "! ", "? "} {
		if idx := strings.LastIndex(window, sep); idx > floor {
			return start + idx + len(sep)
		}
	}
	if idx := strings.LastIndexAny(window, " \n\t"); idx > floor {
		return start + idx
	}
	// No break found, e.g. unspaced CJK text. Avoid slicing mid-rune.
	return runeFloor(text, limit)
}

// runeFloor rounds i down to the nearest rune boundary in text.
func runeFloor(text string, i int) int {
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
