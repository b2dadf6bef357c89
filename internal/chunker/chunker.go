// Package chunker provides character-based text chunking for document
// indexing.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Config holds chunker configuration.
type Config struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int
	// ChunkOverlap is how many trailing characters of one chunk reappear at
	// the start of the next. Must be smaller than ChunkSize.
	ChunkOverlap int
	// Encoding names the tiktoken encoding used for token counts.
	Encoding string
}

// DefaultConfig returns the default chunker configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Encoding:     "cl100k_base",
	}
}

// Chunk is one piece of a split document.
type Chunk struct {
	Index      int    `json:"index"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
}

// Chunker splits text into overlapping character windows, preferring natural
// boundaries near the window end.
type Chunker struct {
	config    Config
	tokenizer *tiktoken.Tiktoken
}

// New creates a Chunker.
func New(cfg Config) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "cl100k_base"
	}

	tokenizer, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		tokenizer, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
		}
	}

	return &Chunker{config: cfg, tokenizer: tokenizer}, nil
}

// Split cuts text into chunks. Each window targets ChunkSize characters; the
// cut point backs up to a paragraph, sentence, or word boundary when one
// falls inside the final fifth of the window. Consecutive chunks share
// ChunkOverlap characters. Whitespace-only windows are dropped.
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}

	size := c.config.ChunkSize
	overlap := c.config.ChunkOverlap

	var chunks []Chunk
	start := 0

	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.breakPoint(runes, start, end)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, Chunk{
				Index:      len(chunks),
				Content:    content,
				TokenCount: c.CountTokens(content),
			})
		}

		if end >= len(runes) {
			break
		}

		next := end - overlap
		// Overlap must never stall the walk.
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// breakPoint finds the best cut position in (start, limit]. Boundaries are
// only honored within the final fifth of the window so short chunks are not
// produced by an early newline.
func (c *Chunker) breakPoint(runes []rune, start, limit int) int {
	window := string(runes[start:limit])
	floor := len(window) - len(window)/5

	// Paragraph break first, then sentence end, then any whitespace.
	if idx := strings.LastIndex(window, "\n\n"); idx >= floor {
		return start + len([]rune(window[:idx]))
	}
	if idx := lastSentenceEnd(window); idx >= floor {
		return start + len([]rune(window[:idx]))
	}
	if idx := lastSpace(window); idx >= floor {
		return start + len([]rune(window[:idx]))
	}

	return limit
}

// CountTokens returns the tiktoken token count for text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.tokenizer.Encode(text, nil, nil))
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s`)

// lastSentenceEnd returns the byte index just past the final sentence
// terminator, or -1.
func lastSentenceEnd(s string) int {
	locs := sentenceEnd.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return -1
	}
	return locs[len(locs)-1][0] + 1
}

// lastSpace returns the byte index of the final whitespace rune, or -1.
func lastSpace(s string) int {
	return strings.LastIndexFunc(s, unicode.IsSpace)
}

// NormalizeText strips invalid UTF-8 and maps exotic whitespace to plain
// spaces, keeping newlines so paragraph boundaries survive.
func NormalizeText(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || !unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, text)
	return strings.TrimSpace(text)
}
