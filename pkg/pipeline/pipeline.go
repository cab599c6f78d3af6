package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	perrors "github.com/exllm/exllm/pkg/errors"
)

// Plug is the pair (init, call) from §3: Init runs once at pipeline
// assembly time and compiles the plug's options; Call runs once per
// request and returns a new Request value.
type Plug interface {
	// Name identifies the plug in error entries and logs.
	Name() string

	// Init compiles raw options into whatever opaque value Call expects.
	// It runs once, at Compile time, not per request.
	Init(opts map[string]any) (any, error)

	// Call transforms req and returns a new Request. It MUST NOT mutate
	// req in place. compiled is the value Init returned.
	Call(req *Request, compiled any) *Request
}

// compiledStep pairs a Plug with its Init-time compiled options.
type compiledStep struct {
	plug     Plug
	compiled any
}

// Pipeline is an ordered, compiled list of plugs, ready to Run.
type Pipeline struct {
	name  string
	steps []compiledStep
	log   *slog.Logger
}

// Compile builds a Pipeline by calling Init on each plug with its
// corresponding options (opts[plug.Name()], possibly absent/nil).
func Compile(name string, plugs []Plug, opts map[string]map[string]any, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	steps := make([]compiledStep, 0, len(plugs))
	for _, p := range plugs {
		compiled, err := p.Init(opts[p.Name()])
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: init plug %s: %w", name, p.Name(), err)
		}
		steps = append(steps, compiledStep{plug: p, compiled: compiled})
	}
	return &Pipeline{name: name, steps: steps, log: log}, nil
}

// Plugs returns the ordered plug names in this pipeline, for introspection.
func (p *Pipeline) Plugs() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.plug.Name()
	}
	return names
}

// Run folds req through the pipeline per §4.1: for each plug, if
// req.Halted, skip; else call the plug, converting any panic into an
// :exception error entry (state=error, halted=true). Pipeline-level
// timing is recorded in Metadata. The runner never lets a failure
// bubble past this call; it returns a terminal Request value, or one in
// the streaming state whose stream is still being delivered, per the
// error-handling design's "never raises past the runner" rule.
func (p *Pipeline) Run(req *Request) *Request {
	start := time.Now()
	cur := req
	for _, step := range p.steps {
		if cur.Halted {
			break
		}
		cur = p.runStep(step, cur)
	}
	cur = cur.Clone()
	cur.Metadata["pipeline_duration_ms"] = time.Since(start).Milliseconds()
	if !cur.Halted && cur.State != StateCompleted && cur.State != StateError && cur.State != StateStreaming {
		// A pipeline that falls off the end without explicit completion,
		// error, or a started stream is, by I1, considered halted. A
		// streaming request finishes later, in its stream coordinator.
		cur.Halted = true
		cur.State = StateHalted
	}
	return cur
}

func (p *Pipeline) runStep(step compiledStep, cur *Request) (result *Request) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("plug panicked", "pipeline", p.name, "plug", step.plug.Name(), "recover", r)
			result = HaltWithError(cur, step.plug.Name(), perrors.KindException, fmt.Sprintf("%v", r), nil)
		}
	}()
	next := step.plug.Call(cur, step.compiled)
	if next == nil {
		// A plug that forgets to return a value is itself an exception,
		// not a silent halt: treat it the same as a panic so P1/P2 still
		// hold (exactly one of result/errors ends up populated).
		return HaltWithError(cur, step.plug.Name(), perrors.KindException, "plug returned nil request", nil)
	}
	return next
}

// FuncPlug adapts two ordinary functions into a Plug, for plugs with no
// meaningful Init-time compilation step.
type FuncPlug struct {
	PlugName string
	InitFn   func(opts map[string]any) (any, error)
	CallFn   func(req *Request, compiled any) *Request
}

func (f FuncPlug) Name() string { return f.PlugName }

func (f FuncPlug) Init(opts map[string]any) (any, error) {
	if f.InitFn == nil {
		return opts, nil
	}
	return f.InitFn(opts)
}

func (f FuncPlug) Call(req *Request, compiled any) *Request {
	return f.CallFn(req, compiled)
}
