package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"vaultrag/internal/domain"
)

// TokenChunker splits text into overlapping chunks whose estimated token
// count (runes / CharsPerToken) stays within [MinTokens, MaxTokens]. Cuts
// prefer line breaks, then spaces, near the target size.
type TokenChunker struct {
	cfg      domain.ChunkingConfig
	minChars int
	maxChars int
	target   int
	overlap  int
}

func NewTokenChunker(cfg domain.ChunkingConfig) (*TokenChunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// eps absorbs float error so 10 * 1.1 still allows 11 characters.
	const eps = 1e-9
	minChars := int(math.Ceil(float64(cfg.MinTokens)*cfg.CharsPerToken - eps))
	maxChars := int(math.Floor(float64(cfg.MaxTokens)*cfg.CharsPerToken + eps))
	if minChars < 1 {
		minChars = 1
	}
	if maxChars < minChars {
		return nil, fmt.Errorf("%w: no whole character count lies within [%d, %d] tokens at %g chars per token",
			domain.ErrInvalidConfig, cfg.MinTokens, cfg.MaxTokens, cfg.CharsPerToken)
	}
	target := int(math.Round(float64(cfg.TargetTokens) * cfg.CharsPerToken))
	target = clamp(target, minChars, maxChars)

	return &TokenChunker{
		cfg:      cfg,
		minChars: minChars,
		maxChars: maxChars,
		target:   target,
		overlap:  int(math.Round(float64(cfg.OverlapTokens) * cfg.CharsPerToken)),
	}, nil
}

// Chunk is deterministic: identical input yields identical ids and bounds.
func (c *TokenChunker) Chunk(filePath, content string) []domain.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	runes := []rune(content)
	n := len(runes)
	lines := newLineIndex(runes)
	headings := findHeadings(runes)

	var chunks []domain.Chunk
	start := 0

	for start < n {
		end := n
		if n-start > c.maxChars {
			lo := start + c.minChars
			hi := start + c.maxChars
			end = findBreak(runes, lo, start+c.target, hi)
		}

		text := string(runes[start:end])
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, domain.Chunk{
				ID:   generateChunkID(filePath, start, end),
				Text: text,
				Metadata: c.metadata(filePath, len(chunks), lines.lineAt(start), lines.lineAt(end-1),
					sectionTitle(headings, start, end)),
			})
		}

		if end >= n {
			break
		}

		// Overlap never swallows the whole chunk, so start always advances.
		ov := c.overlap
		if ov > (end-start)/2 {
			ov = (end - start) / 2
		}
		start = end - ov
	}

	return chunks
}

func (c *TokenChunker) metadata(filePath string, index, startLine, endLine int, title string) map[string]string {
	m := map[string]string{
		domain.MetaFilePath:   filePath,
		domain.MetaStartLine:  strconv.Itoa(startLine),
		domain.MetaEndLine:    strconv.Itoa(endLine),
		domain.MetaChunkIndex: strconv.Itoa(index),
	}
	if title != "" {
		m[domain.MetaSectionTitle] = title
	}
	return m
}

// EstimateTokens applies the configured chars-per-token ratio.
func (c *TokenChunker) EstimateTokens(text string) float64 {
	return float64(len([]rune(text))) / c.cfg.CharsPerToken
}

// findBreak returns an end offset in [lo, hi], closest to ideal, just after a
// newline if one exists, else just after a space, else ideal itself.
func findBreak(runes []rune, lo, ideal, hi int) int {
	ideal = clamp(ideal, lo, hi)
	for _, sep := range []rune{'\n', ' '} {
		for i := ideal; i >= lo; i-- {
			if runes[i-1] == sep {
				return i
			}
		}
		for i := ideal + 1; i <= hi; i++ {
			if runes[i-1] == sep {
				return i
			}
		}
	}
	return ideal
}

type lineIndex []int // rune offsets where each line starts

func newLineIndex(runes []rune) lineIndex {
	idx := lineIndex{0}
	for i, r := range runes {
		if r == '\n' && i+1 < len(runes) {
			idx = append(idx, i+1)
		}
	}
	return idx
}

// lineAt returns the 1-based line containing offset.
func (l lineIndex) lineAt(offset int) int {
	return sort.Search(len(l), func(i int) bool { return l[i] > offset })
}

type heading struct {
	offset int
	title  string
}

func findHeadings(runes []rune) []heading {
	var out []heading
	offset := 0
	for _, line := range strings.SplitAfter(string(runes), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			rest := trimmed[level:]
			if level <= 6 && (rest == "" || rest[0] == ' ' || rest[0] == '\t') {
				if title := strings.TrimSpace(rest); title != "" {
					out = append(out, heading{offset: offset, title: title})
				}
			}
		}
		offset += len([]rune(line))
	}
	return out
}

// sectionTitle is the nearest heading at or above start, else the first
// heading inside the chunk.
func sectionTitle(headings []heading, start, end int) string {
	i := sort.Search(len(headings), func(i int) bool { return headings[i].offset > start })
	if i > 0 {
		return headings[i-1].title
	}
	if len(headings) > 0 && headings[0].offset < end {
		return headings[0].title
	}
	return ""
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func generateChunkID(filePath string, start, end int) string {
	data := fmt.Sprintf("%s:%d-%d", filePath, start, end)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
