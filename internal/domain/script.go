// Package domain holds the small value types shared across the registry,
// scheduler, pipeline and VM packages: script hashes and parsed script
// records.
package domain

import (
	"fmt"

	"github.com/capital-g/dyngend/internal/pkg/crypto"
)

// ScriptHash identifies a script within the Script Registry. The registry
// is keyed by the hash a client publishes a script under, not by a hash of
// the source text: publishing under a hash that already has an entry
// replaces that entry's script.
type ScriptHash int32

// HashScript derives the ScriptHash a script's source text maps to.
func HashScript(source string) ScriptHash {
	h := crypto.HashString(source)
	var acc int32
	for i := 0; i < len(h) && i < 8; i++ {
		acc = acc<<4 | int32(hexNibble(h[i]))
	}
	if acc < 0 {
		acc = -acc
	}
	return ScriptHash(acc)
}

func hexNibble(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return 0
	}
}

// ScriptRecord is the immutable, parsed form of a script: three source
// sections plus the parameter names the client supplies alongside the
// script text. Once built
// by ParseScript a ScriptRecord is never mutated — a new one replaces it
// wholesale on every publish.
type ScriptRecord struct {
	Source string
	Init   string
	Block  string
	Sample string
	Params []string
}

// Hash returns the ScriptHash this record's source text maps to.
func (r *ScriptRecord) Hash() ScriptHash {
	return HashScript(r.Source)
}

func (r *ScriptRecord) String() string {
	return fmt.Sprintf("ScriptRecord{hash=%d params=%d}", r.Hash(), len(r.Params))
}
