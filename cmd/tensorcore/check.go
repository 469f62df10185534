package main

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-tensorcore/internal/devrt"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/export"
	"github.com/23skdu/longbow-tensorcore/internal/ops"
	"github.com/23skdu/longbow-tensorcore/internal/reference"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

// defaultTolerance is the max absolute error accepted per dtype when
// --tolerance is 0.
var defaultTolerance = map[dtype.DType]float64{
	dtype.F32:  1e-4,
	dtype.F16:  2e-2,
	dtype.BF16: 1e-1,
}

type checkConfig struct {
	dtype     string
	seed      uint64
	tolerance float64
	arrowDir  string
}

func newCheckCmd(opts *options) *cobra.Command {
	cfg := checkConfig{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run every kernel on random inputs and compare with a float64 reference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := opts.newContext()
			if err != nil {
				return err
			}
			return runCheck(cmd.OutOrStdout(), ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.dtype, "dtype", envString("TENSORCORE_CHECK_DTYPE", "f32"), "Element type (f32, f16, bf16)")
	cmd.Flags().Uint64Var(&cfg.seed, "seed", 42, "Random seed")
	cmd.Flags().Float64Var(&cfg.tolerance, "tolerance", 0, "Max absolute error (0 picks a default for the dtype)")
	cmd.Flags().StringVar(&cfg.arrowDir, "arrow", "", "Directory to write each kernel output as an Arrow IPC stream")
	return cmd
}

// checkResult is one row of the report.
type checkResult struct {
	op     string
	shape  string
	maxErr float64
	out    *tensor.Tensor
}

type checker struct {
	ctx *devrt.Context
	dt  dtype.DType
	rng *rand.Rand
	// tensors to release once the report is done
	owned []*tensor.Tensor
}

func runCheck(w io.Writer, ctx *devrt.Context, cfg checkConfig) error {
	dt, err := dtype.Parse(cfg.dtype)
	if err != nil {
		return errors.Wrap(err, "--dtype")
	}
	tol := cfg.tolerance
	if tol == 0 {
		var ok bool
		if tol, ok = defaultTolerance[dt]; !ok {
			return errors.Errorf("--dtype %s is not a kernel dtype", dt)
		}
	}

	c := &checker{ctx: ctx, dt: dt, rng: rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))}
	defer c.release()

	results, err := c.run()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"OP", "SHAPE", "DTYPE", "MAX ABS ERR", "STATUS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	failed := 0
	for _, r := range results {
		status := "ok"
		if !(r.maxErr <= tol) {
			status = "FAIL"
			failed++
		}
		table.Append([]string{r.op, r.shape, dt.String(), fmt.Sprintf("%.3g", r.maxErr), status})
	}
	table.Render()

	if cfg.arrowDir != "" {
		if err := writeArrow(cfg.arrowDir, results); err != nil {
			return err
		}
	}

	if failed > 0 {
		return errors.Errorf("%d of %d kernels exceeded tolerance %g", failed, len(results), tol)
	}
	log.Info().Int("kernels", len(results)).Float64("tolerance", tol).Msg("check passed")
	return nil
}

func writeArrow(dir string, results []checkResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	builder := export.NewRecordBatchBuilder(memory.NewGoAllocator())
	for _, r := range results {
		rec, err := builder.Build(r.out)
		if err != nil {
			return errors.Wrapf(err, "export %s", r.op)
		}
		path := filepath.Join(dir, r.op+".arrow")
		f, err := os.Create(path)
		if err != nil {
			rec.Release()
			return err
		}
		err = export.WriteIPC(f, rec)
		rec.Release()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.Wrapf(err, "write %s", path)
		}
		log.Debug().Str("path", path).Msg("wrote arrow output")
	}
	return nil
}

func (c *checker) own(t *tensor.Tensor) *tensor.Tensor {
	c.owned = append(c.owned, t)
	return t
}

func (c *checker) release() {
	for _, t := range c.owned {
		t.Release()
	}
}

// randn creates a tensor of normal samples and returns the values it holds
// after rounding to the checker's dtype.
func (c *checker) randn(shape ...int) (*tensor.Tensor, []float64) {
	vals := make([]float32, tensor.Numel(shape))
	for i := range vals {
		vals[i] = float32(c.rng.NormFloat64())
	}
	t := c.own(mustGet(tensor.FromFloat32(c.ctx, devrt.Host, c.dt, shape, vals)))
	held := mustGet(t.Float32s())
	return t, reference.Widen(held)
}

func (c *checker) empty(shape ...int) *tensor.Tensor {
	return c.own(mustGet(tensor.Create(c.ctx, shape, c.dt, devrt.Host)))
}

func (c *checker) ids(shape []int, ids []int64) *tensor.Tensor {
	return c.own(mustGet(tensor.FromInt64(c.ctx, devrt.Host, shape, ids)))
}

// result reads out and compares it with want.
func (c *checker) result(op string, shape []int, want []float64, out *tensor.Tensor) checkResult {
	got := mustGet(out.Float32s())
	return checkResult{op: op, shape: export.FormatShape(shape), maxErr: reference.MaxAbsDiff(want, got), out: out}
}

// mustGet raises err to run's recover.
func mustGet[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func (c *checker) run() (results []checkResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()

	check := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	{
		vals, want := c.randn(64)
		idx := c.ids([]int{1}, []int64{-1})
		val := c.empty(1)
		check(ops.Argmax(idx, val, vals))
		wantIdx, wantVal := reference.Argmax(want)
		r := c.result("argmax", []int{64}, []float64{wantVal}, val)
		if got := mustGet(idx.Int64s()); got[0] != int64(wantIdx) {
			r.maxErr = math.Inf(1)
		}
		results = append(results, r)
	}

	{
		const vocab, dim = 16, 8
		weight, w := c.randn(vocab, dim)
		index := []int64{3, 0, 15, 3, 7}
		out := c.empty(len(index), dim)
		check(ops.Embedding(out, c.ids([]int{len(index)}, index), weight))
		results = append(results, c.result("embedding", []int{vocab, dim}, reference.Embedding(w, dim, index), out))
	}

	{
		const batch, inF, outF = 4, 16, 8
		in, x := c.randn(batch, inF)
		weight, w := c.randn(outF, inF)
		bias, b := c.randn(outF)
		out := c.empty(batch, outF)
		check(ops.Linear(out, in, weight, ops.Some(bias)))
		results = append(results, c.result("linear", []int{batch, inF, outF}, reference.Linear(x, batch, inF, w, outF, b), out))
	}

	{
		const batch, hidden = 4, 16
		const eps = 1e-6
		in, x := c.randn(batch, hidden)
		weight, w := c.randn(hidden)
		out := c.empty(batch, hidden)
		check(ops.RMSNorm(out, in, weight, eps))
		results = append(results, c.result("rms_norm", []int{batch, hidden}, reference.RMSNorm(x, batch, hidden, w, eps), out))
	}

	{
		const seq, heads, dim = 5, 2, 8
		const theta = 10000
		in, x := c.randn(seq, heads, dim)
		pos := []int64{3, 4, 5, 6, 7}
		out := c.empty(seq, heads, dim)
		check(ops.RoPE(out, in, c.ids([]int{seq}, pos), theta))
		results = append(results, c.result("rope", []int{seq, heads, dim}, reference.RoPE(x, pos, seq, heads, dim, theta), out))
	}

	{
		const seq, kvLen, heads, kvHeads, dim = 3, 5, 4, 2, 8
		scale := 1 / math.Sqrt(dim)
		q, qv := c.randn(seq, heads, dim)
		k, kv := c.randn(kvLen, kvHeads, dim)
		v, vv := c.randn(kvLen, kvHeads, dim)
		out := c.empty(seq, heads, dim)
		check(ops.SelfAttention(out, q, k, v, float32(scale)))
		want := reference.SelfAttention(qv, kv, vv, seq, kvLen, heads, kvHeads, dim, scale)
		results = append(results, c.result("self_attention", []int{seq, kvLen, heads, kvHeads, dim}, want, out))
	}

	{
		gate, g := c.randn(4, 16)
		up, u := c.randn(4, 16)
		out := c.empty(4, 16)
		check(ops.SwiGLU(out, gate, up))
		results = append(results, c.result("swiglu", []int{4, 16}, reference.SwiGLU(g, u), out))
	}

	{
		const a, b, d = 3, 4, 5
		in, x := c.randn(a, b, d)
		view := c.own(mustGet(in.Permute(2, 0, 1)))
		out := c.empty(d, a, b)
		check(ops.Rearrange(out, view))
		want := make([]float64, 0, len(x))
		for k := 0; k < d; k++ {
			for i := 0; i < a; i++ {
				for j := 0; j < b; j++ {
					want = append(want, x[(i*b+j)*d+k])
				}
			}
		}
		results = append(results, c.result("rearrange", []int{a, b, d}, want, out))
	}

	return results, nil
}
