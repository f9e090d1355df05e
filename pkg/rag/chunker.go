package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// Chunk is a line-aligned slice of a source document. StartLine and
// EndLine are 1-indexed and inclusive.
type Chunk struct {
	Content   string
	StartLine int
	EndLine   int
	Index     int
	Total     int
	Hash      string
}

// Chunker splits documents into overlapping, line-aligned chunks.
// Budgets are measured in runes, not bytes, so multibyte content does
// not produce oversized chunks.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 2000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits content at line boundaries. A line that alone exceeds
// the budget is split at the rune budget, with the overlap carried
// between the pieces.
func (c *Chunker) Chunk(content string) []Chunk {
	if content == "" {
		return nil
	}

	lines := strings.Split(content, "\n")

	if utf8.RuneCountInString(content) <= c.size {
		chunk := Chunk{
			Content:   content,
			StartLine: 1,
			EndLine:   len(lines),
			Index:     0,
			Total:     1,
		}
		chunk.Hash = chunkHash(chunk.Content)
		return []Chunk{chunk}
	}

	var chunks []Chunk
	start := 0

	for start < len(lines) {
		if utf8.RuneCountInString(lines[start])+1 > c.size {
			for _, piece := range c.splitLine(lines[start]) {
				chunks = append(chunks, Chunk{
					Content:   piece,
					StartLine: start + 1,
					EndLine:   start + 1,
					Index:     len(chunks),
				})
			}
			start++
			continue
		}

		runeCount := 0
		end := start
		for end < len(lines) {
			lineRunes := utf8.RuneCountInString(lines[end]) + 1
			if runeCount+lineRunes > c.size {
				break
			}
			runeCount += lineRunes
			end++
		}

		chunks = append(chunks, Chunk{
			Content:   strings.Join(lines[start:end], "\n"),
			StartLine: start + 1,
			EndLine:   end,
			Index:     len(chunks),
		})

		if end >= len(lines) {
			break
		}

		// Walk back from the boundary collecting trailing lines for the
		// overlap. The next chunk must still advance at least one line.
		next := end
		overlapRunes := 0
		for next > start+1 {
			lineRunes := utf8.RuneCountInString(lines[next-1]) + 1
			if overlapRunes+lineRunes > c.overlap {
				break
			}
			overlapRunes += lineRunes
			next--
		}
		start = next
	}

	total := len(chunks)
	for i := range chunks {
		chunks[i].Total = total
		chunks[i].Hash = chunkHash(chunks[i].Content)
	}

	return chunks
}

// splitLine cuts an oversized line into rune windows of at most size,
// each overlapping its predecessor by the configured overlap.
func (c *Chunker) splitLine(line string) []string {
	runes := []rune(line)
	stride := c.size - c.overlap

	var pieces []string
	for i := 0; ; i += stride {
		end := i + c.size
		if end >= len(runes) {
			pieces = append(pieces, string(runes[i:]))
			return pieces
		}
		pieces = append(pieces, string(runes[i:end]))
	}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

func chunkHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}
