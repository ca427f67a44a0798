package dyngen

import (
	"fmt"
	"strings"

	"github.com/capital-g/dyngend/internal/domain"
)

const (
	markerInit   = "@init\n"
	markerBlock  = "@block\n"
	markerSample = "@sample\n"
)

// ParseScript splits raw script source into its init/block/sample sections.
//
// Absence of all three markers means the whole buffer is the sample
// section. When any marker is present, @sample is required and the
// markers must appear in init, block, sample order — anything else is a
// parse error. A section body runs from the end of its marker line to the
// start of the next marker (or end of text).
func ParseScript(source string, params []string) (*domain.ScriptRecord, error) {
	initPos := indexAtLineStart(source, markerInit)
	blockPos := indexAtLineStart(source, markerBlock)
	samplePos := indexAtLineStart(source, markerSample)

	if initPos < 0 && blockPos < 0 && samplePos < 0 {
		return &domain.ScriptRecord{
			Source: source,
			Sample: source,
			Params: params,
		}, nil
	}

	if samplePos < 0 {
		return nil, fmt.Errorf("dyngen: script has section markers but no @sample section")
	}
	if err := validateMarkerOrder(initPos, blockPos, samplePos); err != nil {
		return nil, err
	}

	rec := &domain.ScriptRecord{Source: source, Params: params}
	if initPos >= 0 {
		rec.Init = sliceSection(source, initPos+len(markerInit), nextMarkerAfter(initPos, blockPos, samplePos))
	}
	if blockPos >= 0 {
		rec.Block = sliceSection(source, blockPos+len(markerBlock), nextMarkerAfter(blockPos, samplePos))
	}
	rec.Sample = sliceSection(source, samplePos+len(markerSample), len(source))

	return rec, nil
}

// validateMarkerOrder checks that whichever of @init/@block are present
// precede @sample, and precede each other in init-then-block order.
func validateMarkerOrder(initPos, blockPos, samplePos int) error {
	if initPos >= 0 && initPos > samplePos {
		return fmt.Errorf("dyngen: @init must appear before @sample")
	}
	if blockPos >= 0 && blockPos > samplePos {
		return fmt.Errorf("dyngen: @block must appear before @sample")
	}
	if initPos >= 0 && blockPos >= 0 && initPos > blockPos {
		return fmt.Errorf("dyngen: @init must appear before @block")
	}
	return nil
}

// indexAtLineStart finds marker, requiring it to begin at offset 0 or
// immediately after a newline — a marker appearing mid-line (e.g. inside
// a string literal or comment) is not a real section boundary.
func indexAtLineStart(source, marker string) int {
	from := 0
	for {
		rel := strings.Index(source[from:], marker)
		if rel < 0 {
			return -1
		}
		pos := from + rel
		if pos == 0 || source[pos-1] == '\n' {
			return pos
		}
		from = pos + 1
	}
}

// nextMarkerAfter returns the nearest candidate position strictly greater
// than pos, or the source's implicit end if none qualifies.
func nextMarkerAfter(pos int, candidates ...int) int {
	best := -1
	for _, c := range candidates {
		if c > pos && (best < 0 || c < best) {
			best = c
		}
	}
	return best
}

func sliceSection(source string, start, end int) string {
	if end < 0 || end > len(source) {
		end = len(source)
	}
	if start > end {
		return ""
	}
	return source[start:end]
}
