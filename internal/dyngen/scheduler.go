package dyngen

import (
	"context"
	"runtime"
	"sync"

	"github.com/capital-g/dyngend/internal/metrics"
	"github.com/capital-g/dyngend/internal/vm"
)

// stage2Job is a unit of NRT work: a pipeline's stage 2 or stage 4, or a
// VM teardown. runNRT ignores its return value; Submit's own stage-2
// closure decides whether stage 3 is enqueued.
type stage2Job func() bool

// rtJob is work that must run on the single RT goroutine, serialized
// with every unit's block processing: a pipeline's stage 3 (publish) or
// its cleanup stage.
type rtJob func()

// Scheduler is the Go-native realization of the async command runner:
// one RT goroutine draining a FIFO job channel, and a pool of NRT worker
// goroutines draining a second channel. This satisfies every ordering
// guarantee the lifecycle core needs — stage 3/cleanup never overlaps
// block processing, stage 2/4 work runs off the RT path — without a
// literal dedicated non-preemptive thread, which Go does not offer.
type Scheduler struct {
	rtJobs   chan rtJob
	nrtJobs  chan stage2Job
	workers  int
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	factory  vm.Factory

	// inflight tracks pipelines and destroy jobs submitted but not yet
	// through their final stage. Tests use Quiesce to wait for the
	// scheduler to reach a steady state without polling or sleeping.
	inflight sync.WaitGroup
}

// Quiesce blocks until every pipeline and destroy job submitted so far
// has completed. Used by tests and by Service.Rehydrate, which waits for
// every rehydrated script to be published before returning.
func (s *Scheduler) Quiesce() {
	s.inflight.Wait()
}

// NewScheduler starts the RT goroutine and workers NRT worker goroutines.
// workers <= 0 defaults to runtime.GOMAXPROCS(0).
func NewScheduler(factory vm.Factory, workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		rtJobs:  make(chan rtJob, 256),
		nrtJobs: make(chan stage2Job, 256),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		factory: factory,
	}

	s.wg.Add(1)
	go s.runRT()

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.runNRT()
	}

	return s
}

func (s *Scheduler) runRT() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.rtJobs:
			job()
		case <-s.ctx.Done():
			s.drainRT()
			return
		}
	}
}

// drainRT runs any already-queued RT jobs once shutdown begins. A queued
// cleanup job still runs; a queued stage-3 job runs stage 3, but its
// stage 4 and cleanup are not guaranteed to run once the context is
// cancelled.
func (s *Scheduler) drainRT() {
	for {
		select {
		case job := <-s.rtJobs:
			job()
		default:
			return
		}
	}
}

func (s *Scheduler) runNRT() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.nrtJobs:
			job()
		case <-s.ctx.Done():
			return
		}
	}
}

// SubmitRT enqueues a closure onto the RT job channel. Never blocks the
// caller indefinitely in steady state — the channel is sized generously,
// but a full channel means the RT goroutine has fallen behind, which is
// itself a signal worth surfacing rather than papering over with an
// unbounded queue.
func (s *Scheduler) SubmitRT(job rtJob) {
	select {
	case s.rtJobs <- job:
	case <-s.ctx.Done():
	}
}

// submitNRT enqueues stage-2/stage-4 work onto the NRT worker pool.
func (s *Scheduler) submitNRT(job stage2Job) {
	select {
	case s.nrtJobs <- job:
	case <-s.ctx.Done():
	}
}

// Submit runs a full pipeline: stage 2 on an NRT worker, then (if stage
// 2 reports success) stage 3 on the RT goroutine and stage 4 on an NRT
// worker. Cleanup runs last on the RT goroutine, after a failed stage 2
// as well.
func (s *Scheduler) Submit(p pipeline) {
	p.retain()
	metrics.Default().PipelineSubmitted()
	s.inflight.Add(1)
	s.submitNRT(func() bool {
		ok := p.stage2()
		if !ok {
			s.SubmitRT(func() {
				p.cleanup(false)
				s.inflight.Done()
			})
			return false
		}
		s.SubmitRT(func() {
			orphaned := p.stage3()
			s.finishPipeline(p, orphaned)
		})
		return true
	})
}

func (s *Scheduler) finishPipeline(p pipeline, orphaned bool) {
	s.submitNRT(func() bool {
		p.stage4()
		s.SubmitRT(func() {
			p.cleanup(orphaned)
			s.inflight.Done()
		})
		return true
	})
}

// SubmitDestroy runs a stage-2-only VM teardown: no stage 3, no stage 4,
// matching deleteVmOnSynthDestruction in the original plugin. Used by
// Unit.Close when a live VM must be discarded after the unit has already
// unlinked itself from the registry.
func (s *Scheduler) SubmitDestroy(victim vm.VM) {
	s.inflight.Add(1)
	s.submitNRT(func() bool {
		victim.Close()
		metrics.Default().VMDestroyed()
		metrics.RecordVMDestroyed()
		s.inflight.Done()
		return false
	})
}

// Close stops accepting new work and waits for the RT goroutine and
// every NRT worker to exit. RT jobs already queued still run via drainRT;
// pipelines still in an NRT stage are not waited for and may never reach
// cleanup.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}
