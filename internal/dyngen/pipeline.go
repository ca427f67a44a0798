package dyngen

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/capital-g/dyngend/internal/domain"
	"github.com/capital-g/dyngend/internal/logging"
	"github.com/capital-g/dyngend/internal/metrics"
	"github.com/capital-g/dyngend/internal/observability"
)

// pipeline is the small state machine every async command drives through
// the Scheduler. Stage 2 runs on an NRT worker; stage 3 and cleanup run
// on the RT goroutine; stage 4 runs on an NRT worker again. A pipeline
// that fails stage 2 skips straight to cleanup(false) with no stage 3/4.
type pipeline interface {
	kind() string
	// retain/release guard whatever handle this pipeline kind uses to
	// detect its target disappearing mid-flight. initPipeline retains a
	// Unit's Stub; fanout and free pipelines operate on the registry
	// directly from the RT goroutine and need no handle, so they are
	// no-ops.
	retain()
	release()
	stage2() bool
	stage3() (orphaned bool)
	stage4()
	cleanup(orphaned bool)
}

// base carries the bookkeeping every pipeline kind needs: the hash the
// pipeline concerns itself with, a start time for duration logging, the
// stage-2 failure (if any), and the tracing span.
type base struct {
	hash    domain.ScriptHash
	started time.Time
	failed  error
	span    trace.Span
}

func newBase(hash domain.ScriptHash) base {
	return base{hash: hash, started: time.Now()}
}

// startSpan opens the tracing span covering this pipeline's stage2→stage4
// lifetime. Called from the concrete pipeline's constructor once kind()
// is known.
func (b *base) startSpan(kind string) {
	_, span := observability.StartSpan(context.Background(), "dyngen.pipeline."+kind,
		observability.AttrPipelineKind.String(kind),
		observability.AttrScriptHash.Int(int(b.hash)),
	)
	b.span = span
}

func (b *base) logCompletion(kind string, orphaned bool, units int) {
	entry := &logging.PipelineLog{
		Kind:          kind,
		ScriptHash:    int32(b.hash),
		DurationMs:    time.Since(b.started).Milliseconds(),
		Success:       b.failed == nil,
		Orphaned:      orphaned,
		UnitsAffected: units,
	}
	if b.failed != nil {
		entry.Error = b.failed.Error()
		logging.Op().Error("dyngen: pipeline failed", slog.String("kind", kind), slog.Int("hash", int(b.hash)), slog.Any("err", b.failed))
	}
	logging.Default().Log(entry)

	metrics.RecordPipelineCompletion(kind, b.failed == nil, orphaned, float64(entry.DurationMs))
	if orphaned {
		metrics.Default().PipelineOrphaned()
	}

	if b.span != nil {
		b.span.SetAttributes(observability.AttrOrphaned.Bool(orphaned), observability.AttrUnitsAffected.Int(units))
		if b.failed != nil {
			observability.SetSpanError(b.span, b.failed)
		} else {
			observability.SetSpanOK(b.span)
		}
		b.span.End()
	}
}
