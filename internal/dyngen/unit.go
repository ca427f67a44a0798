package dyngen

import (
	"log/slog"

	"github.com/capital-g/dyngend/internal/domain"
	"github.com/capital-g/dyngend/internal/logging"
	"github.com/capital-g/dyngend/internal/metrics"
	"github.com/capital-g/dyngend/internal/vm"
)

// Unit is a single generator instance bound to one script hash. It is
// always constructed and destroyed on the RT goroutine, and its ActiveVM
// field is only ever read or written there — the one field Process
// shares across threads is reached exclusively through its Stub.
type Unit struct {
	CodeID       domain.ScriptHash
	ActiveVM     vm.VM
	Stub         *Stub
	Entry        *RegistryEntry
	ParamIndices []int
	NumInputs    int

	prev, next *Unit
}

// NewUnit constructs a unit bound to codeID. Mirrors the constructor
// order in the original plugin: allocate the stub and parameter-index
// table first, then insert-or-get the registry entry for codeID and
// link into its unit chain unconditionally — a unit must always be
// discoverable from its hash's entry so a later AddScript/PublishScript
// reaches it — then decide between the synchronous fast path
// (useAudioThread) and the default async compile.
//
// If codeID has no script published yet, InsertOrGet allocates an empty
// entry and the unit behaves as silence until a script arrives under
// that hash.
func NewUnit(reg *Registry, sched *Scheduler, factory vm.Factory, codeID domain.ScriptHash, numInputs int, paramIndices []int, useAudioThread bool) *Unit {
	u := &Unit{
		CodeID:       codeID,
		ParamIndices: paramIndices,
		NumInputs:    numInputs,
	}
	u.Stub = NewStub(u)
	metrics.Default().UnitCreated()

	entry := reg.InsertOrGet(codeID, nil)
	u.Entry = entry
	entry.addUnit(u)

	if entry.Script == nil {
		logging.Op().Warn("dyngen: no script published for code id", slog.Int("code_id", int(codeID)))
		return u
	}

	if useAudioThread {
		compiled, err := factory.Compile(entry.Script, numInputs, entry.Script.Params)
		if err != nil {
			logging.Op().Error("dyngen: synchronous compile failed", slog.Int("code_id", int(codeID)), slog.Any("err", err))
			return u
		}
		u.ActiveVM = compiled
		return u
	}

	sched.Submit(newInitPipeline(u, entry.Script, factory))
	return u
}

// Next processes one audio block through the unit's active VM. Called
// only from the RT goroutine. A unit with no compiled VM yet produces
// silence, matching the original UGen's null-VM fallback.
func (u *Unit) Next(in, out []float64, paramValues []float64) {
	if u.ActiveVM == nil {
		zero(out)
		return
	}
	u.ActiveVM.Process(in, out, paramValues)
	metrics.Default().BlockProcessed()
}

func zero(out []float64) {
	for i := range out {
		out[i] = 0
	}
}

// UpdateCode requests a hot recompile of this unit's script. If the unit
// already has a VM and updateFlag is false, this is a silent no-op — the
// running VM keeps its code. A unit with no VM yet always gets a compile
// submitted. It also does nothing when the unit's entry has no script.
func (u *Unit) UpdateCode(sched *Scheduler, factory vm.Factory, updateFlag bool) {
	if u.ActiveVM != nil && !updateFlag {
		return
	}
	if u.Entry == nil || u.Entry.Script == nil {
		return
	}
	sched.Submit(newInitPipeline(u, u.Entry.Script, factory))
}

// Close is the unit's destructor: unlink from its registry entry,
// invalidate the stub so in-flight pipelines see an orphan at their next
// RT stage, release the unit's own hold on the stub, and if a VM is
// active, tear it down asynchronously — stage 2 only, since nothing
// downstream needs to touch this unit again.
func (u *Unit) Close(reg *Registry, sched *Scheduler) {
	metrics.Default().UnitDestroyed()
	u.Stub.Invalidate()
	u.Stub.Release()

	if u.Entry != nil {
		u.Entry.removeUnit(u)
		reg.reapIfFreeable(u.Entry)
		u.Entry = nil
	}

	if u.ActiveVM != nil {
		victim := u.ActiveVM
		u.ActiveVM = nil
		sched.SubmitDestroy(victim)
	}
}
