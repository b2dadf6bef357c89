package chunker

import (
	"strings"
	"testing"
)

func mustChunker(t *testing.T, cfg Config) *Chunker {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return c
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{ChunkSize: 0}); err == nil {
		t.Error("expected error for zero chunk size")
	}
	if _, err := New(Config{ChunkSize: 100, ChunkOverlap: 100}); err == nil {
		t.Error("expected error for overlap >= size")
	}
	if _, err := New(Config{ChunkSize: 100, ChunkOverlap: -1}); err == nil {
		t.Error("expected error for negative overlap")
	}
}

func TestSplitEmpty(t *testing.T) {
	c := mustChunker(t, DefaultConfig())

	if chunks := c.Split(""); chunks != nil {
		t.Errorf("empty text produced %d chunks", len(chunks))
	}
	if chunks := c.Split("   \n\t  "); chunks != nil {
		t.Errorf("whitespace text produced %d chunks", len(chunks))
	}
}

func TestSplitShortText(t *testing.T) {
	c := mustChunker(t, DefaultConfig())

	chunks := c.Split("a single short paragraph.")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Content != "a single short paragraph." {
		t.Errorf("content = %q", chunks[0].Content)
	}
	if chunks[0].Index != 0 {
		t.Errorf("index = %d, want 0", chunks[0].Index)
	}
	if chunks[0].TokenCount == 0 {
		t.Error("token count should be non-zero")
	}
}

func TestSplitSizeAndOverlap(t *testing.T) {
	c := mustChunker(t, Config{ChunkSize: 100, ChunkOverlap: 20})

	// No natural boundaries at all: pure character windows.
	text := strings.Repeat("a", 350)
	chunks := c.Split(text)

	if len(chunks) < 4 {
		t.Fatalf("got %d chunks, want at least 4", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch.Content) > 100 {
			t.Errorf("chunk %d length %d exceeds size", i, len(ch.Content))
		}
		if ch.Index != i {
			t.Errorf("chunk %d has index %d", i, ch.Index)
		}
	}

	// Consecutive chunks share the overlap.
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1].Content[len(chunks[i-1].Content)-20:]
		if !strings.HasPrefix(chunks[i].Content, tail) {
			t.Errorf("chunk %d does not start with previous tail", i)
		}
	}
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	c := mustChunker(t, Config{ChunkSize: 100, ChunkOverlap: 0})

	// A sentence end falls in the last fifth of the first window.
	first := strings.Repeat("a", 88) + ". "
	text := first + strings.Repeat("b", 120)
	chunks := c.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Content, ".") {
		t.Errorf("first chunk should end at sentence boundary, got %q", chunks[0].Content)
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	c := mustChunker(t, Config{ChunkSize: 100, ChunkOverlap: 0})

	para := strings.Repeat("a", 90)
	text := para + "\n\n" + strings.Repeat("b", 150)
	chunks := c.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	if chunks[0].Content != para {
		t.Errorf("first chunk should stop at paragraph break, got %d chars", len(chunks[0].Content))
	}
}

func TestSplitAlwaysMakesProgress(t *testing.T) {
	// Overlap nearly as large as the chunk still has to terminate.
	c := mustChunker(t, Config{ChunkSize: 10, ChunkOverlap: 9})

	chunks := c.Split(strings.Repeat("x", 100))
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	total := 0
	for _, ch := range chunks {
		total += len(ch.Content)
	}
	if total < 100 {
		t.Errorf("chunks cover %d chars, want at least 100", total)
	}
}

func TestNormalizeText(t *testing.T) {
	got := NormalizeText("  hello\t  world \n next  ")
	if strings.Contains(got, "\t") {
		t.Errorf("tabs not normalized: %q", got)
	}
	if strings.HasPrefix(got, " ") || strings.HasSuffix(got, " ") {
		t.Errorf("not trimmed: %q", got)
	}
}

func BenchmarkSplit(b *testing.B) {
	c, err := New(DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 500)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Split(text)
	}
}
