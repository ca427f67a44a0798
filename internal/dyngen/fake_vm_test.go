package dyngen

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/capital-g/dyngend/internal/domain"
	"github.com/capital-g/dyngend/internal/vm"
)

// fakeVM multiplies every input sample by a fixed gain, deterministically
// derived from the script source, so tests can assert which script a
// unit's active VM was compiled from without inspecting goja internals.
type fakeVM struct {
	gain   float64
	closed int32
}

func (v *fakeVM) Process(in, out []float64, _ []float64) {
	for i := range out {
		out[i] = in[i] * v.gain
	}
}

func (v *fakeVM) SetParam(int, float64) {}

func (v *fakeVM) Close() {
	atomic.AddInt32(&v.closed, 1)
}

// fakeFactory compiles scripts whose sample section is exactly
// "out=in*<gain>" into a fakeVM with that gain. A script whose source
// contains "FAIL" always fails to compile, for exercising stage-2
// failure paths deterministically.
type fakeFactory struct {
	mu         sync.Mutex
	compiled   []*domain.ScriptRecord
	blockUntil chan struct{} // if non-nil, Compile waits on it before returning
}

func (f *fakeFactory) Compile(rec *domain.ScriptRecord, _ int, _ []string) (vm.VM, error) {
	f.mu.Lock()
	block := f.blockUntil
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	f.mu.Lock()
	f.compiled = append(f.compiled, rec)
	f.mu.Unlock()

	if strings.Contains(rec.Source, "FAIL") {
		return nil, fmt.Errorf("fakeFactory: script marked FAIL")
	}
	var gain float64
	if _, err := fmt.Sscanf(rec.Sample, "out=in*%f", &gain); err != nil {
		return nil, fmt.Errorf("fakeFactory: cannot compile %q: %w", rec.Sample, err)
	}
	return &fakeVM{gain: gain}, nil
}
