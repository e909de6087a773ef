// Package chunk splits raw document text into content-coherent segments
// suitable for embedding and retrieval.
//
// The splitter honors markdown-style section headers so semantically
// related text is not divided gratuitously: small sections are emitted
// whole, oversized sections are sub-divided at the best break point
// (paragraph break, then newline, then sentence boundary) found within
// the final 30% of each window.
package chunk

import (
	"fmt"
	"regexp"
	"strings"
)

// Default sizing for brokerage documents. Tenant-level overrides come from
// config; the floor filters ingestion noise (stray lines, table fragments).
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
	MinChars       = 50
)

// Draft kinds recorded in chunk metadata.
const (
	KindSection    = "section"
	KindSubSection = "sub_section"
)

// headingPattern matches a newline that begins a markdown heading (# to ####).
// Sections are cut just before the heading so each section keeps its title.
var headingPattern = regexp.MustCompile(`\n#{1,4} `)

// Draft is a chunk candidate produced by Split. Ordinals are assigned
// sequentially across the whole document in emission order and become part
// of the deterministic chunk identifier.
type Draft struct {
	Text    string
	Ordinal int
	Kind    string

	// Character offsets within the owning section, set only for sub-divided
	// sections (Kind == KindSubSection).
	CharStart int
	CharEnd   int
}

// Config controls splitter sizing.
type Config struct {
	Size    int // maximum chunk length in characters
	Overlap int // characters shared between adjacent sub-chunks
	Floor   int // minimum chunk length; smaller fragments are discarded
}

// Splitter divides document text into chunk drafts.
type Splitter struct {
	size    int
	overlap int
	floor   int
}

// New creates a Splitter. Zero config fields fall back to defaults.
// Overlap must be strictly less than size or the sub-division loop could
// stop advancing.
func New(cfg Config) (*Splitter, error) {
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.Floor == 0 {
		cfg.Floor = MinChars
	}
	if cfg.Size <= 0 || cfg.Overlap < 0 {
		return nil, fmt.Errorf("invalid chunk sizing: size=%d overlap=%d", cfg.Size, cfg.Overlap)
	}
	if cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("overlap %d must be less than chunk size %d", cfg.Overlap, cfg.Size)
	}

	return &Splitter{size: cfg.Size, overlap: cfg.Overlap, floor: cfg.Floor}, nil
}

// Split divides text into ordered chunk drafts.
//
// Inputs shorter than the floor are emitted as a single chunk rather than
// discarded: a document that is entirely tiny is still a document. Within
// larger inputs, fragments below the floor are dropped as noise.
func (s *Splitter) Split(text string) []Draft {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) < s.floor {
		return []Draft{{Text: trimmed, Ordinal: 0, Kind: KindSection}}
	}

	var drafts []Draft
	ordinal := 0

	for _, section := range splitSections(text) {
		if len(section) <= s.size {
			clean := strings.TrimSpace(section)
			if len(clean) < s.floor {
				continue
			}
			drafts = append(drafts, Draft{Text: clean, Ordinal: ordinal, Kind: KindSection})
			ordinal++
			continue
		}

		drafts = s.subdivide(section, drafts, &ordinal)
	}

	return drafts
}

// splitSections cuts text just before each markdown heading line, keeping
// the heading with the section it titles.
func splitSections(text string) []string {
	matches := headingPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}

	sections := make([]string, 0, len(matches)+1)
	start := 0
	for _, m := range matches {
		// Cut after the newline so the heading starts the next section.
		sections = append(sections, text[start:m[0]+1])
		start = m[0] + 1
	}
	sections = append(sections, text[start:])
	return sections
}

// subdivide walks an oversized section, emitting overlapping sub-chunks.
// For every window it searches the final 30% for the best break point:
// blank-line paragraph break, then single newline, then sentence-ending
// period-space, falling back to the raw size boundary.
func (s *Splitter) subdivide(section string, drafts []Draft, ordinal *int) []Draft {
	pos := 0
	for pos < len(section) {
		end := pos + s.size
		if end < len(section) {
			searchStart := pos + (s.size*7)/10
			window := section[searchStart:end]

			breakIdx := strings.LastIndex(window, "\n\n")
			if breakIdx == -1 {
				breakIdx = strings.LastIndex(window, "\n")
			}
			if breakIdx == -1 {
				breakIdx = strings.LastIndex(window, ". ")
			}
			if breakIdx != -1 {
				end = searchStart + breakIdx + 1
			}
		} else {
			end = len(section)
		}

		piece := strings.TrimSpace(section[pos:end])
		if len(piece) > s.floor {
			drafts = append(drafts, Draft{
				Text:      piece,
				Ordinal:   *ordinal,
				Kind:      KindSubSection,
				CharStart: pos,
				CharEnd:   end,
			})
			*ordinal++
		}

		next := end - s.overlap
		if next <= pos {
			// Break-point search can land close to the window start when
			// overlap approaches size; force forward progress.
			next = end
		}
		pos = next
		if pos >= len(section)-s.floor {
			break
		}
	}
	return drafts
}
