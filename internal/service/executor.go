package service

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/fault"
	"github.com/23skdu/longbow-tensorcore/internal/ops"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

// ErrQueueFull is returned when a request arrives while the executor is busy
// and the wait queue is at capacity.
var ErrQueueFull = errors.New("executor queue full")

// Defaults applied when a request leaves the parameter at zero.
const (
	DefaultEps   = 1e-6
	DefaultTheta = 10000
)

var tracer = otel.Tracer("tensorcore-service")

// Executor runs operator calls one at a time against a single device
// context. Callers beyond the running one wait in a queue of bounded size.
type Executor struct {
	ctx      *devrt.Context
	dev      devrt.Device
	registry *Registry

	sem      *semaphore.Weighted
	maxQueue int64
	waiting  atomic.Int64
	breaker  *Breaker
}

// Option configures an Executor.
type Option func(*Executor)

// WithBreaker replaces the default breaker (5 failures, 30s cooldown).
func WithBreaker(maxFailures int, cooldown time.Duration) Option {
	return func(e *Executor) {
		e.breaker = NewBreaker(maxFailures, cooldown)
	}
}

// NewExecutor creates an executor placing every tensor on dev. At most
// queueSize callers wait while another call runs.
func NewExecutor(ctx *devrt.Context, dev devrt.Device, queueSize int, opts ...Option) *Executor {
	e := &Executor{
		ctx:      ctx,
		dev:      dev,
		registry: NewRegistry(),
		sem:      semaphore.NewWeighted(1),
		maxQueue: int64(queueSize),
		breaker:  NewBreaker(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Device() devrt.Device {
	return e.dev
}

func (e *Executor) Registry() *Registry {
	return e.registry
}

// admit takes the executor, waiting in the queue when it is busy.
func (e *Executor) admit(ctx context.Context) (func(), error) {
	ok, trial := e.breaker.admit()
	if !ok {
		return nil, ErrDeviceUnavailable
	}
	// a trial call that ends without Success or Failure frees the slot
	abort := func() {
		if trial {
			e.breaker.Abort()
		}
	}
	release := func() {
		e.sem.Release(1)
		abort()
	}
	if e.sem.TryAcquire(1) {
		return release, nil
	}
	if e.waiting.Add(1) > e.maxQueue {
		e.waiting.Add(-1)
		abort()
		rejected.Inc()
		return nil, ErrQueueFull
	}
	queueDepth.Inc()
	err := e.sem.Acquire(ctx, 1)
	e.waiting.Add(-1)
	queueDepth.Dec()
	if err != nil {
		abort()
		return nil, err
	}
	return release, nil
}

// Store materialises w on the executor's device under name.
func (e *Executor) Store(ctx context.Context, name string, w Tensor) error {
	release, err := e.admit(ctx)
	if err != nil {
		return err
	}
	defer release()

	t, err := w.Materialize(e.ctx, e.dev)
	e.record(err)
	if err != nil {
		return err
	}
	e.registry.Put(name, t)
	log.Debug().Str("name", name).Str("tensor", t.Info()).Msg("stored tensor")
	return nil
}

// Drop releases the tensor stored under name.
func (e *Executor) Drop(ctx context.Context, name string) error {
	release, err := e.admit(ctx)
	if err != nil {
		return err
	}
	defer release()
	return e.registry.Drop(name)
}

// Fetch returns the wire form of the tensor stored under name.
func (e *Executor) Fetch(ctx context.Context, name string) (w Tensor, err error) {
	err = e.With(ctx, name, func(t *tensor.Tensor) error {
		w, err = FromTensor(t)
		return err
	})
	return w, err
}

// With runs fn on the tensor stored under name while holding the executor.
// fn must not keep t beyond its return.
func (e *Executor) With(ctx context.Context, name string, fn func(t *tensor.Tensor) error) error {
	release, err := e.admit(ctx)
	if err != nil {
		return err
	}
	defer release()
	t, err := e.registry.Get(name)
	if err != nil {
		return err
	}
	return fn(t)
}

// Execute runs op with the operands of req and returns its outputs.
func (e *Executor) Execute(ctx context.Context, op string, req *Request) (resp *Response, err error) {
	start := time.Now()
	handler, ok := handlers[op]
	if !ok {
		opsExecuted.WithLabelValues("unknown", "not_implemented").Inc()
		return nil, fault.New(fault.NotImplemented, "operator %q", op)
	}

	ctx, span := tracer.Start(ctx, "execute "+op, trace.WithAttributes(
		attribute.String("op", op),
		attribute.String("device", e.dev.String()),
	))
	defer span.End()

	release, err := e.admit(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	c := &call{e: e, req: req}
	defer c.release()

	err = fault.Catch(func() {
		outputs := handler(c)
		resp = &Response{Outputs: make(map[string]Tensor, len(outputs))}
		for role, t := range outputs {
			w, err := FromTensor(t)
			raise(err)
			resp.Outputs[role] = w
		}
	})

	opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	e.record(err)
	if err != nil {
		opsExecuted.WithLabelValues(op, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	opsExecuted.WithLabelValues(op, "ok").Inc()
	span.SetAttributes(attribute.Int("outputs", len(resp.Outputs)))
	return resp, nil
}

// record feeds the breaker: runtime faults count against the device, any
// other outcome shows it is working.
func (e *Executor) record(err error) {
	if err != nil && fault.KindOf(err) == fault.Runtime {
		e.breaker.Failure()
		log.Warn().Err(err).Str("device", e.dev.String()).Str("breaker", e.breaker.State().String()).Msg("device failure")
		return
	}
	e.breaker.Success()
}

// Close releases every stored tensor.
func (e *Executor) Close() {
	e.registry.Close()
}

// Ops returns the operator names Execute accepts.
func Ops() []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// call tracks the tensors created for one Execute.
type call struct {
	e     *Executor
	req   *Request
	owned []*tensor.Tensor
}

func raise(err error) {
	if err != nil {
		panic(err)
	}
}

func (c *call) own(t *tensor.Tensor) *tensor.Tensor {
	c.owned = append(c.owned, t)
	return t
}

func (c *call) release() {
	for _, t := range c.owned {
		t.Release()
	}
}

func (c *call) optional(role string) (*tensor.Tensor, bool) {
	if w, ok := c.req.Tensors[role]; ok {
		t, err := w.Materialize(c.e.ctx, c.e.dev)
		raise(err)
		return c.own(t), true
	}
	if name, ok := c.req.Refs[role]; ok {
		t, err := c.e.registry.Get(name)
		raise(err)
		return t, true
	}
	return nil, false
}

func (c *call) operand(role string) *tensor.Tensor {
	t, ok := c.optional(role)
	fault.Check(ok, fault.ShapeMismatch, "missing operand %q", role)
	return t
}

func (c *call) output(shape []int, dt dtype.DType) *tensor.Tensor {
	t, err := tensor.Create(c.e.ctx, shape, dt, c.e.dev)
	raise(err)
	return c.own(t)
}

// dim returns extent i of the operand in role, raising when t has too few
// dimensions to infer an output shape.
func dim(role string, t *tensor.Tensor, i int) int {
	s := t.Shape()
	fault.Check(i < len(s), fault.ShapeMismatch, "%s: shape %v has no dimension %d", role, s, i)
	return s[i]
}

type handler func(c *call) map[string]*tensor.Tensor

var handlers = map[string]handler{
	"argmax": func(c *call) map[string]*tensor.Tensor {
		vals := c.operand("vals")
		idx := c.output([]int{1}, dtype.I64)
		val := c.output([]int{1}, vals.DType())
		raise(ops.Argmax(idx, val, vals))
		return map[string]*tensor.Tensor{"max_idx": idx, "max_val": val}
	},
	"embedding": func(c *call) map[string]*tensor.Tensor {
		index, weight := c.operand("index"), c.operand("weight")
		out := c.output([]int{dim("index", index, 0), dim("weight", weight, 1)}, weight.DType())
		raise(ops.Embedding(out, index, weight))
		return map[string]*tensor.Tensor{"out": out}
	},
	"linear": func(c *call) map[string]*tensor.Tensor {
		in, weight := c.operand("in"), c.operand("weight")
		bias := ops.None()
		if b, ok := c.optional("bias"); ok {
			bias = ops.Some(b)
		}
		out := c.output([]int{dim("in", in, 0), dim("weight", weight, 0)}, in.DType())
		raise(ops.Linear(out, in, weight, bias))
		return map[string]*tensor.Tensor{"out": out}
	},
	"rms_norm": func(c *call) map[string]*tensor.Tensor {
		in, weight := c.operand("in"), c.operand("weight")
		eps := c.req.Eps
		if eps == 0 {
			eps = DefaultEps
		}
		out := c.output(in.Shape(), in.DType())
		raise(ops.RMSNorm(out, in, weight, eps))
		return map[string]*tensor.Tensor{"out": out}
	},
	"rope": func(c *call) map[string]*tensor.Tensor {
		in, pos := c.operand("in"), c.operand("pos_ids")
		theta := c.req.Theta
		if theta == 0 {
			theta = DefaultTheta
		}
		out := c.output(in.Shape(), in.DType())
		raise(ops.RoPE(out, in, pos, theta))
		return map[string]*tensor.Tensor{"out": out}
	},
	"self_attention": func(c *call) map[string]*tensor.Tensor {
		q, k, v := c.operand("q"), c.operand("k"), c.operand("v")
		scale := c.req.Scale
		if scale == 0 {
			d := dim("q", q, 2)
			fault.Check(d > 0, fault.ShapeMismatch, "q: head dim must be positive")
			scale = 1 / math32.Sqrt(float32(d))
		}
		out := c.output(q.Shape(), q.DType())
		raise(ops.SelfAttention(out, q, k, v, scale))
		return map[string]*tensor.Tensor{"out": out}
	},
	"swiglu": func(c *call) map[string]*tensor.Tensor {
		gate, up := c.operand("gate"), c.operand("up")
		out := c.output(gate.Shape(), gate.DType())
		raise(ops.SwiGLU(out, gate, up))
		return map[string]*tensor.Tensor{"out": out}
	},
	"rearrange": func(c *call) map[string]*tensor.Tensor {
		in := c.operand("in")
		if len(c.req.Perm) > 0 {
			view, err := in.Permute(c.req.Perm...)
			raise(err)
			in = c.own(view)
		}
		out := c.output(in.Shape(), in.DType())
		raise(ops.Rearrange(out, in))
		return map[string]*tensor.Tensor{"out": out}
	},
}
