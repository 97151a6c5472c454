package rag

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitEmpty(t *testing.T) {
	c := NewChunker(1000, 200)
	if got := c.Split("   \n  "); got != nil {
		t.Fatalf("expected nil for blank input, got %v", got)
	}
}

func TestSplitShortInput(t *testing.T) {
	c := NewChunker(1000, 200)
	got := c.Split("Define, Measure, Analyze, Improve, Control.")
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got))
	}
	if got[0] != "Define, Measure, Analyze, Improve, Control." {
		t.Fatalf("chunk altered: %q", got[0])
	}
}

func TestSplitOrderAndOverlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		b.WriteString("Process capability is measured before improvement. ")
	}
	text := strings.TrimSpace(b.String())

	c := NewChunker(1000, 200)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	pos := 0
	for i, ch := range chunks {
		if len(ch) > c.Size {
			t.Fatalf("chunk %d exceeds size: %d > %d", i, len(ch), c.Size)
		}
		idx := strings.Index(text[pos:], ch)
		if idx < 0 {
			t.Fatalf("chunk %d not found in document order", i)
		}
		pos += idx + 1
	}
	// adjacent chunks share overlapping text
	tail := chunks[0][len(chunks[0])-50:]
	if !strings.Contains(chunks[1], strings.TrimSpace(tail[:20])) {
		t.Fatalf("expected overlap between chunk 0 and 1")
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("A fishbone diagram organizes potential causes. ", 100)
	c := NewChunker(500, 100)
	a := c.Split(text)
	b := c.Split(text)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	para := strings.Repeat("x", 380)
	text := para + "\n\n" + para + "\n\n" + para
	c := NewChunker(500, 50)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if chunks[0] != para {
		t.Fatalf("expected first chunk to end at paragraph break, got %d chars", len(chunks[0]))
	}
}

func TestSplitKeepsRunesWholeWithoutWhitespace(t *testing.T) {
	// Unspaced multi-byte text never offers a whitespace break, forcing the
	// fallback boundary on every chunk.
	text := strings.Repeat("六西格玛管理法", 100)
	c := NewChunker(100, 20)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if !utf8.ValidString(ch) {
			t.Fatalf("chunk %d is not valid UTF-8: %q", i, ch)
		}
		if len(ch) > c.Size {
			t.Fatalf("chunk %d exceeds size: %d > %d", i, len(ch), c.Size)
		}
	}
}

func TestNewChunkerDefaults(t *testing.T) {
	c := NewChunker(0, -1)
	if c.Size != 1000 {
		t.Fatalf("expected default size 1000, got %d", c.Size)
	}
	if c.Overlap != 200 {
		t.Fatalf("expected default overlap 200, got %d", c.Overlap)
	}
}
