package dyngen

import "testing"

// Two overlapping fanouts for the same hash: whichever reaches stage 3
// last wins, regardless of which one's stage 2 (parse/compile) finished
// first, because each pipeline closes over the ScriptRecord it parsed at
// its own stage 2, never a shared mutable pointer — the same "two
// simultaneous swapCode calls" argument from library.cpp's comment.
// Stages are driven directly rather than through the scheduler so the
// interleaving is deterministic instead of racing real goroutines.
func TestFanout_OverlappingPublishesForSameHash(t *testing.T) {
	factory := &fakeFactory{}
	svc := Start(factory, 4)
	defer svc.sched.Close()

	svc.AddScript(11, "out=in*1.0\n", nil)
	svc.sched.Quiesce()
	u := svc.CreateUnit(11, 1, nil, false)
	svc.sched.Quiesce()

	pFast := newFanoutPipeline(11, "out=in*5.0\n", nil, svc.reg, svc.sched, svc.factory)
	pSlow := newFanoutPipeline(11, "out=in*2.0\n", nil, svc.reg, svc.sched, svc.factory)

	// Both parse/compile (stage 2) before either publishes, exactly as
	// two genuinely concurrent fanouts would.
	if ok := pFast.stage2(); !ok {
		t.Fatalf("pFast stage2 failed: %v", pFast.failed)
	}
	if ok := pSlow.stage2(); !ok {
		t.Fatalf("pSlow stage2 failed: %v", pSlow.failed)
	}

	// pFast reaches stage 3 first; let its spawned initPipeline fully
	// retarget the unit
	// before pSlow's stage 3 runs and retargets it again, so the final
	// state is deterministic: whichever published last must also be the
	// last to recompile the unit.
	pFast.stage3()
	svc.sched.Quiesce()
	pSlow.stage3()
	svc.sched.Quiesce()

	in := []float64{1}
	out := make([]float64, 1)
	u.Next(in, out, nil)
	if out[0] != 2.0 {
		t.Fatalf("expected unit to reflect whichever fanout published last (gain 2.0), got %v", out[0])
	}

	rec, err := svc.FindScript(11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Sample != "out=in*2.0\n" {
		t.Fatalf("expected registry to hold the last-published script, got %q", rec.Sample)
	}
}

// A free racing an in-flight fanout for the same hash must never let the
// fanout's stage 3 resurrect the freed entry: FreeEntry removes the hash
// from the registry immediately, so PublishScript allocates a genuinely
// fresh entry rather than reusing one still marked ShouldBeFreed.
func TestFanout_RacesFreeWithoutResurrectingFreedEntry(t *testing.T) {
	block := make(chan struct{})
	factory := &fakeFactory{blockUntil: block}
	svc := Start(factory, 4)
	defer svc.sched.Close()

	svc.sched.Submit(newFanoutPipeline(21, "out=in*3.0\n", nil, svc.reg, svc.sched, svc.factory))

	if err := svc.FreeScript(21); err != nil {
		t.Fatalf("unexpected error freeing script: %v", err)
	}
	if _, err := svc.FindScript(21); err == nil {
		t.Fatal("expected registry entry to be gone immediately after free")
	}

	close(block)
	svc.sched.Quiesce()

	rec, err := svc.FindScript(21)
	if err != nil {
		t.Fatalf("expected fanout to install a fresh entry after the free, got error: %v", err)
	}
	if rec.Sample != "out=in*3.0\n" {
		t.Fatalf("unexpected sample section in freshly installed entry: %q", rec.Sample)
	}

	u := svc.CreateUnit(21, 1, nil, false)
	svc.sched.Quiesce()
	in := []float64{1}
	out := make([]float64, 1)
	u.Next(in, out, nil)
	if out[0] != 3.0 {
		t.Fatalf("expected unit bound to the post-free entry to compile, got %v", out[0])
	}
}
