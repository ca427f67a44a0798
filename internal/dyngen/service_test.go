package dyngen

import (
	"testing"
)

// S1 — basic add and run: publish a script, create a unit against it,
// and once the async compile settles the unit's VM reflects that script.
func TestService_BasicAddAndRun(t *testing.T) {
	factory := &fakeFactory{}
	svc := Start(factory, 2)
	defer svc.sched.Close()

	svc.AddScript(42, "out=in*0.5\n", nil)
	svc.sched.Quiesce()

	u := svc.CreateUnit(42, 1, nil, false)
	svc.sched.Quiesce()

	if u.ActiveVM == nil {
		t.Fatal("expected unit to have a compiled VM after quiescence")
	}
	in := []float64{1, 1, 1, 1}
	out := make([]float64, 4)
	u.Next(in, out, nil)
	for _, v := range out {
		if v != 0.5 {
			t.Fatalf("expected 0.5, got %v", v)
		}
	}
}

// S2 — hot-swap: after steady state, publishing a new script for the
// same hash retargets the unit's VM without ever leaving it nil.
func TestService_HotSwap(t *testing.T) {
	factory := &fakeFactory{}
	svc := Start(factory, 2)
	defer svc.sched.Close()

	svc.AddScript(42, "out=in*0.5\n", nil)
	svc.sched.Quiesce()
	u := svc.CreateUnit(42, 1, nil, false)
	svc.sched.Quiesce()

	svc.AddScript(42, "out=in*2.0\n", nil)
	svc.sched.Quiesce()

	in := []float64{1}
	out := make([]float64, 1)
	u.Next(in, out, nil)
	if out[0] != 2.0 {
		t.Fatalf("expected hot-swapped gain 2.0, got %v", out[0])
	}
}

// S3 — unit dies mid-compile: destroying a unit before its initPipeline
// reaches stage 3 must route the freshly compiled VM straight to
// disposal instead of publishing it to a dead unit, and must not panic
// or deadlock.
func TestService_UnitDiesMidCompile(t *testing.T) {
	blockUntil := make(chan struct{})
	factory := &fakeFactory{blockUntil: blockUntil}
	svc := Start(factory, 2)
	defer svc.sched.Close()

	svc.AddScript(7, "out=in*3.0\n", nil)
	close(blockUntil) // let the fanout's own compile through
	svc.sched.Quiesce()

	// Re-arm a fresh block for the unit's own compile.
	block2 := make(chan struct{})
	factory.mu.Lock()
	factory.blockUntil = block2
	factory.mu.Unlock()

	u := svc.CreateUnit(7, 1, nil, false)
	svc.DestroyUnit(u)

	close(block2)
	svc.sched.Quiesce()

	if u.Stub.Owner() != nil {
		t.Fatal("expected stub to be invalidated after unit destruction")
	}
	if u.ActiveVM != nil {
		t.Fatal("a destroyed unit must never end up with a published VM")
	}
}

// S4 — parse error: a script with out-of-order markers must fail stage 2
// and never touch the registry.
func TestService_ParseErrorNeverTouchesRegistry(t *testing.T) {
	factory := &fakeFactory{}
	svc := Start(factory, 2)
	defer svc.sched.Close()

	svc.AddScript(9, "@block\ngain=1;\n@init\nfreq=1;\n@sample\nout=in*1.0\n", nil)
	svc.sched.Quiesce()

	if _, err := svc.FindScript(9); err == nil {
		t.Fatal("expected no registry entry to exist after a parse failure")
	}
}

// S5 — fanout to many units: publishing a new script for a hash with
// many bound units recompiles every one of them.
func TestService_FanoutToManyUnits(t *testing.T) {
	factory := &fakeFactory{}
	svc := Start(factory, 4)
	defer svc.sched.Close()

	svc.AddScript(5, "out=in*1.0\n", nil)
	svc.sched.Quiesce()

	const n = 100
	units := make([]*Unit, n)
	for i := range units {
		units[i] = svc.CreateUnit(5, 1, nil, false)
	}
	svc.sched.Quiesce()

	svc.AddScript(5, "out=in*9.0\n", nil)
	svc.sched.Quiesce()

	for i, u := range units {
		in := []float64{1}
		out := make([]float64, 1)
		u.Next(in, out, nil)
		if out[0] != 9.0 {
			t.Fatalf("unit %d: expected gain 9.0 after fanout, got %v", i, out[0])
		}
	}
}

// S6 — free with live units: freeing a hash with live units unlinks the
// registry entry immediately but leaves running units untouched; the
// entry is only fully reaped once the last bound unit is destroyed.
func TestService_FreeWithLiveUnits(t *testing.T) {
	factory := &fakeFactory{}
	svc := Start(factory, 2)
	defer svc.sched.Close()

	svc.AddScript(3, "out=in*4.0\n", nil)
	svc.sched.Quiesce()

	units := make([]*Unit, 3)
	for i := range units {
		units[i] = svc.CreateUnit(3, 1, nil, false)
	}
	svc.sched.Quiesce()

	if err := svc.FreeScript(3); err != nil {
		t.Fatalf("unexpected error freeing script: %v", err)
	}

	if _, err := svc.FindScript(3); err == nil {
		t.Fatal("expected registry entry to be gone immediately after free")
	}

	// Live units keep producing output from their existing VM.
	in := []float64{1}
	out := make([]float64, 1)
	units[0].Next(in, out, nil)
	if out[0] != 4.0 {
		t.Fatalf("expected live unit to keep its VM after free, got %v", out[0])
	}

	for _, u := range units {
		svc.DestroyUnit(u)
	}
	svc.sched.Quiesce()

	entry := svc.reg.Find(3)
	if entry != nil {
		t.Fatal("expected registry entry to be reaped once its last unit is destroyed")
	}
}
