// Package vm provides the scripting virtual machine contract DynGen units
// compile against. The EEL2/JSFX dialect itself is out of scope; this
// package gives the compile/process seam a real, runnable implementation
// using goja, a pure-Go ECMAScript VM, as a stand-in expression engine.
package vm

import "github.com/capital-g/dyngend/internal/domain"

// VM is the compiled, per-unit executable form of a ScriptRecord. A VM is
// built once per compile (stage 2, NRT) and then driven from the RT
// goroutine's block-processing loop for as long as it remains the unit's
// active VM.
type VM interface {
	// Process runs one audio block through the compiled script, reading
	// in and writing to out in place. Implementations must not allocate
	// on this path and must never block.
	Process(in, out []float64, params []float64)

	// SetParam rebinds the value a named parameter resolves to. It is
	// always called from the RT goroutine alongside Process.
	SetParam(index int, value float64)

	// Close releases any resources the VM holds. Always called from an
	// NRT stage (stage 4 of a replacement pipeline, or a unit's async
	// destruction pipeline).
	Close()
}

// Factory compiles a ScriptRecord into a runnable VM, bound to the given
// input/output channel counts and the script's declared parameter table.
// Compilation is NRT work, with one exception: NewUnit's useAudioThread
// path compiles synchronously on the RT goroutine.
type Factory interface {
	Compile(record *domain.ScriptRecord, numInputs int, params []string) (VM, error)
}
