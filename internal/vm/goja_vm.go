package vm

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/capital-g/dyngend/internal/domain"
)

// GojaFactory compiles ScriptRecords using a pure-Go ECMAScript VM as the
// expression engine. Every compile gets its own goja.Runtime — runtimes
// are not safe for concurrent use, and each GeneratorUnit owns exactly
// one VM at a time.
type GojaFactory struct{}

func NewGojaFactory() *GojaFactory { return &GojaFactory{} }

func (f *GojaFactory) Compile(record *domain.ScriptRecord, numInputs int, params []string) (VM, error) {
	rt := goja.New()

	initProg, err := compileSection(record.Init, "init")
	if err != nil {
		return nil, err
	}
	blockProg, err := compileSection(record.Block, "block")
	if err != nil {
		return nil, err
	}
	sampleProg, err := compileSection(record.Sample, "sample")
	if err != nil {
		return nil, err
	}
	if sampleProg == nil {
		return nil, fmt.Errorf("dyngen/vm: script has no sample section to compile")
	}

	v := &gojaVM{
		rt:         rt,
		blockProg:  blockProg,
		sampleProg: sampleProg,
		params:     make([]float64, len(params)),
		paramNames: params,
	}

	rt.Set("params", v.params)
	rt.Set("numInputs", numInputs)

	if initProg != nil {
		if _, err := rt.RunProgram(initProg); err != nil {
			return nil, fmt.Errorf("dyngen/vm: @init failed: %w", err)
		}
	}

	return v, nil
}

func compileSection(src, name string) (*goja.Program, error) {
	if src == "" {
		return nil, nil
	}
	prog, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("dyngen/vm: compiling @%s: %w", name, err)
	}
	return prog, nil
}

type gojaVM struct {
	rt         *goja.Runtime
	blockProg  *goja.Program
	sampleProg *goja.Program
	params     []float64
	paramNames []string
}

func (v *gojaVM) SetParam(index int, value float64) {
	if index < 0 || index >= len(v.params) {
		return
	}
	v.params[index] = value
}

func (v *gojaVM) Process(in, out []float64, params []float64) {
	copy(v.params, params)
	v.rt.Set("in", in)
	v.rt.Set("out", out)
	v.rt.Set("params", v.params)

	if v.blockProg != nil {
		if _, err := v.rt.RunProgram(v.blockProg); err != nil {
			zero(out)
			return
		}
	}
	if _, err := v.rt.RunProgram(v.sampleProg); err != nil {
		zero(out)
	}
}

func (v *gojaVM) Close() {
	v.rt.Interrupt("closed")
}

func zero(out []float64) {
	for i := range out {
		out[i] = 0
	}
}
