package dyngen

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/capital-g/dyngend/internal/domain"
	"github.com/capital-g/dyngend/internal/logging"
	"github.com/capital-g/dyngend/internal/metrics"
	"github.com/capital-g/dyngend/internal/pubsub"
	"github.com/capital-g/dyngend/internal/store"
	"github.com/capital-g/dyngend/internal/vm"
)

// Service is the top-level handle a host process holds: one Registry,
// one Scheduler, and the VM factory every compile goes through. It is
// the Go-native analogue of PluginLoad/PluginUnload — Start wires
// everything up, Close tears it down synchronously.
//
// Persist and Bus are optional ambient infrastructure, both strictly off
// the RT path: a publish always succeeds or fails based on the in-memory
// registry alone, and a Store/Broadcaster failure is logged, never
// propagated back to the caller.
type Service struct {
	reg     *Registry
	sched   *Scheduler
	factory vm.Factory
	persist store.Store
	bus     pubsub.Broadcaster
}

// Start constructs a Service with workers NRT worker goroutines. Pass
// workers <= 0 to default to runtime.GOMAXPROCS(0).
func Start(factory vm.Factory, workers int) *Service {
	reg := NewRegistry()
	sched := NewScheduler(factory, workers)
	return &Service{reg: reg, sched: sched, factory: factory}
}

// WithPersistence attaches a durability side-channel. Every publish whose
// source parses is mirrored there, independently of the pipeline's
// validation compile; every free deletes the corresponding row.
func (s *Service) WithPersistence(st store.Store) *Service {
	s.persist = st
	return s
}

// WithBroadcaster attaches cross-process fanout: every publish whose
// source parses is announced so sibling processes sharing this script
// namespace can refresh their own registries. Frees are not announced.
func (s *Service) WithBroadcaster(bus pubsub.Broadcaster) *Service {
	s.bus = bus
	return s
}

// Rehydrate loads every persisted script from the attached Store and
// publishes them into the registry, for recovering state after a
// restart. No-op if no Store is attached.
func (s *Service) Rehydrate(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	records, err := s.persist.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("dyngen: rehydrating from store: %w", err)
	}
	for hash, rec := range records {
		p := newFanoutPipeline(hash, rec.Source, rec.Params, s.reg, s.sched, s.factory)
		s.sched.Submit(p)
	}
	s.sched.Quiesce()
	logging.Op().Info("dyngen: rehydrated scripts from store", slog.Int("count", len(records)))
	return nil
}

// Close synchronously frees every registry entry and stops the
// scheduler. Mirrors Library::cleanup(): unlike a live free command,
// this never defers to an async pipeline, because by teardown time
// nothing downstream can be trusted to still exist to receive one.
func (s *Service) Close() {
	s.runRT(func() {
		for hash := range s.reg.entries {
			delete(s.reg.entries, hash)
			metrics.Default().EntryRemoved()
		}
	})
	s.sched.Close()
}

// runRT submits fn to the RT goroutine and blocks until it has run,
// giving HTTP/CLI callers a synchronous way to touch registry state that
// must only ever be mutated from the RT goroutine.
func (s *Service) runRT(fn func()) {
	done := make(chan struct{})
	s.sched.SubmitRT(func() {
		fn()
		close(done)
	})
	<-done
}

// AddScript publishes source under hash, compiling it and hot-swapping
// every unit currently bound to that hash. params names the ordered
// parameter table the client declares alongside the script, exactly as
// the original dyngenscript OSC command carries them out of band from
// the script text itself.
func (s *Service) AddScript(hash domain.ScriptHash, source string, params []string) {
	s.sched.Submit(newFanoutPipeline(hash, source, params, s.reg, s.sched, s.factory))
	if s.persist != nil || s.bus != nil {
		go s.mirrorPublish(hash, source, params)
	}
}

// mirrorPublish writes through to the optional durability store and
// broadcasts the update to sibling processes. Runs independently of the
// pipeline itself; a parse failure here just means the mirrored copy
// briefly disagrees with reality until the next successful publish, not
// a correctness issue for the RT-facing registry.
func (s *Service) mirrorPublish(hash domain.ScriptHash, source string, params []string) {
	rec, err := ParseScript(source, params)
	if err != nil {
		return
	}
	ctx := context.Background()
	if s.persist != nil {
		if err := s.persist.SaveScript(ctx, hash, rec); err != nil {
			logging.Op().Error("dyngen: persisting script failed", slog.Int("hash", int(hash)), slog.Any("err", err))
		}
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, hash); err != nil {
			logging.Op().Error("dyngen: broadcasting script update failed", slog.Int("hash", int(hash)), slog.Any("err", err))
		}
	}
}

// FreeScript removes hash from the registry. Units still bound to it
// keep running their current VM until they are themselves destroyed.
// Blocks until the unlink has taken effect, then returns.
func (s *Service) FreeScript(hash domain.ScriptHash) error {
	p := newFreePipeline(hash, s.reg)
	s.sched.Submit(p)
	<-p.done
	logging.Op().Info("dyngen: freed script", slog.Int("hash", int(hash)))
	if s.persist != nil {
		go func() {
			if err := s.persist.DeleteScript(context.Background(), hash); err != nil {
				logging.Op().Error("dyngen: deleting persisted script failed", slog.Int("hash", int(hash)), slog.Any("err", err))
			}
		}()
	}
	return nil
}

// FreeAllScripts frees every entry currently in the registry.
func (s *Service) FreeAllScripts() {
	var hashes []domain.ScriptHash
	s.runRT(func() {
		for h := range s.reg.entries {
			hashes = append(hashes, h)
		}
	})
	for _, h := range hashes {
		if err := s.FreeScript(h); err != nil {
			logging.Op().Error("dyngen: free-all encountered an error", slog.Int("hash", int(h)), slog.Any("err", err))
		}
	}
}

// CreateUnit constructs a new Unit bound to codeID. Safe to call from
// any goroutine — registry access happens on the RT goroutine internally.
func (s *Service) CreateUnit(codeID domain.ScriptHash, numInputs int, paramIndices []int, useAudioThread bool) *Unit {
	var u *Unit
	s.runRT(func() {
		u = NewUnit(s.reg, s.sched, s.factory, codeID, numInputs, paramIndices, useAudioThread)
	})
	return u
}

// DestroyUnit tears down u. Safe to call from any goroutine.
func (s *Service) DestroyUnit(u *Unit) {
	s.runRT(func() {
		u.Close(s.reg, s.sched)
	})
}

// UnitSummary describes one live unit for the control surface's
// inspection endpoints.
type UnitSummary struct {
	CodeID   domain.ScriptHash
	HasVM    bool
	NumInputs int
}

// ListUnits returns a summary of every unit currently bound to hash, or
// every unit in the registry if hash is nil.
func (s *Service) ListUnits(hash *domain.ScriptHash) []UnitSummary {
	var out []UnitSummary
	s.runRT(func() {
		for h, entry := range s.reg.entries {
			if hash != nil && h != *hash {
				continue
			}
			for _, u := range entry.units() {
				out = append(out, UnitSummary{CodeID: u.CodeID, HasVM: u.ActiveVM != nil, NumInputs: u.NumInputs})
			}
		}
	})
	return out
}

var errNotFound = fmt.Errorf("dyngen: script not found")

// FindScript returns the currently published ScriptRecord for hash.
func (s *Service) FindScript(hash domain.ScriptHash) (*domain.ScriptRecord, error) {
	var rec *domain.ScriptRecord
	s.runRT(func() {
		if e := s.reg.Find(hash); e != nil {
			rec = e.Script
		}
	})
	if rec == nil {
		return nil, errNotFound
	}
	return rec, nil
}
