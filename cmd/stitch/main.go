package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tetratelabs/stitch"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	cmd := newRootCommand(stdOut, stdErr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stdErr, err)
		return 1
	}
	return 0
}

type engineFlags struct {
	memoryMaxPages uint32
	maxStackSlots  int
	debug          bool
	metrics        bool
}

func newRootCommand(stdOut, stdErr io.Writer) *cobra.Command {
	var flags engineFlags
	cmd := &cobra.Command{
		Use:           "stitch",
		Short:         "stitch CLI",
		Long:          "stitch runs and inspects WebAssembly modules in the binary format.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)
	pf := cmd.PersistentFlags()
	pf.Uint32Var(&flags.memoryMaxPages, "memory-max-pages", 65536, "maximum pages a memory may grow to")
	pf.IntVar(&flags.maxStackSlots, "max-stack-slots", 0, "maximum guest stack slots, 0 for the default")
	pf.BoolVar(&flags.debug, "debug", false, "log engine events to stderr")
	pf.BoolVar(&flags.metrics, "metrics", false, "print engine metrics to stderr on exit")

	cmd.AddCommand(newRunCommand(&flags, stdOut, stdErr), newInspectCommand(&flags, stdOut, stdErr))

	return cmd
}

func newRunCommand(flags *engineFlags, stdOut, stdErr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <path to wasm file> [function] [args...]",
		Short: "Instantiate a module and call one of its exported functions",
		Long: "Instantiates the module, running its start function. Then calls the exported function, or \"_start\" " +
			"when it exists and none is given, and prints its results.\n\n" +
			"Imports of the \"spectest\" module are provided.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(args[0], args[1:], stdOut, stdErr)
		},
	}
	// Everything after the wasm path is a function argument, including negative numbers.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newInspectCommand(flags *engineFlags, stdOut, stdErr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <path to wasm file>",
		Short: "Print the imports and exports of a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.inspect(args[0], stdOut, stdErr)
		},
	}
}

// newEngine returns the engine of the flags and, when metrics are enabled, the registry of its counters.
func (f *engineFlags) newEngine(stdErr io.Writer) (*stitch.Engine, *prometheus.Registry, error) {
	config := stitch.NewEngineConfig().
		WithMemoryMaxPages(f.memoryMaxPages).
		WithMaxStackSlots(f.maxStackSlots)
	if f.debug {
		encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		config = config.WithLogger(zap.New(zapcore.NewCore(encoder, zapcore.AddSync(stdErr), zap.DebugLevel)))
	}
	var reg *prometheus.Registry
	if f.metrics {
		reg = prometheus.NewRegistry()
		config = config.WithMetricsRegisterer(reg)
	}
	e, err := stitch.NewEngineWithConfig(config)
	return e, reg, err
}

func printMetrics(reg *prometheus.Registry, w io.Writer) error {
	if reg == nil {
		return nil
	}
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err = expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func (f *engineFlags) compile(wasmPath string, stdErr io.Writer) (*stitch.Module, *prometheus.Registry, error) {
	bin, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading wasm binary: %w", err)
	}
	e, reg, err := f.newEngine(stdErr)
	if err != nil {
		return nil, nil, err
	}
	mod, err := e.CompileModule(bin)
	if err != nil {
		return nil, nil, fmt.Errorf("error compiling wasm binary: %w", err)
	}
	return mod, reg, nil
}

func (f *engineFlags) run(wasmPath string, args []string, stdOut, stdErr io.Writer) (err error) {
	mod, reg, err := f.compile(wasmPath, stdErr)
	if err != nil {
		return err
	}
	defer func() {
		if merr := printMetrics(reg, stdErr); err == nil {
			err = merr
		}
	}()

	store := stitch.NewStore(mod.Engine())
	imports, err := spectestImports(store, stdOut)
	if err != nil {
		return err
	}
	inst, err := mod.Instantiate(store, imports)
	if err != nil {
		return fmt.Errorf("error instantiating wasm binary: %w", err)
	}

	name := "_start"
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	fn, ok := inst.Func(name)
	if !ok {
		if len(args) == 0 && name == "_start" {
			return nil // nothing to call: instantiation ran the start function
		}
		return fmt.Errorf("function %q not exported", name)
	}

	params, err := parseParams(fn.Type(store), args)
	if err != nil {
		return fmt.Errorf("error calling %s: %w", name, err)
	}
	results := make([]stitch.Val, len(fn.Type(store).Results()))
	if err = fn.Call(store, params, results); err != nil {
		return fmt.Errorf("error calling %s: %w", name, err)
	}
	if len(results) > 0 {
		fmt.Fprintln(stdOut, formatResults(results))
	}
	return nil
}

func (f *engineFlags) inspect(wasmPath string, stdOut, stdErr io.Writer) error {
	mod, reg, err := f.compile(wasmPath, stdErr)
	if err != nil {
		return err
	}
	if name := mod.Name(); name != "" {
		fmt.Fprintf(stdOut, "module: %s\n", name)
	}
	fmt.Fprintln(stdOut, "imports:")
	for _, im := range mod.Imports() {
		fmt.Fprintf(stdOut, "  %s.%s: %s\n", im.Module, im.Name, im.Type)
	}
	fmt.Fprintln(stdOut, "exports:")
	for _, ex := range mod.Exports() {
		fmt.Fprintf(stdOut, "  %s: %s\n", ex.Name, ex.Type)
	}
	return printMetrics(reg, stdErr)
}

func parseParams(ft stitch.FuncType, args []string) ([]stitch.Val, error) {
	types := ft.Params()
	if len(args) != len(types) {
		return nil, fmt.Errorf("expected %d args, but was %d", len(types), len(args))
	}
	params := make([]stitch.Val, len(types))
	for i, t := range types {
		v, err := parseVal(t, args[i])
		if err != nil {
			return nil, fmt.Errorf("arg[%d]: %w", i, err)
		}
		params[i] = v
	}
	return params, nil
}

// parseVal accepts integers in any base strconv understands, signed or unsigned within the width of t.
func parseVal(t stitch.ValType, s string) (stitch.Val, error) {
	switch t {
	case stitch.ValTypeI32:
		v, err := parseInt(s, 32)
		return stitch.ValI32(int32(v)), err
	case stitch.ValTypeI64:
		v, err := parseInt(s, 64)
		return stitch.ValI64(v), err
	case stitch.ValTypeF32:
		v, err := strconv.ParseFloat(s, 32)
		return stitch.ValF32(float32(v)), err
	case stitch.ValTypeF64:
		v, err := strconv.ParseFloat(s, 64)
		return stitch.ValF64(v), err
	}
	return stitch.Val{}, fmt.Errorf("%s params are unsupported", t)
}

func parseInt(s string, bits int) (int64, error) {
	v, err := strconv.ParseInt(s, 0, bits)
	if err == nil {
		return v, nil
	}
	if u, uerr := strconv.ParseUint(s, 0, bits); uerr == nil {
		return int64(u), nil
	}
	var nerr *strconv.NumError
	if errors.As(err, &nerr) {
		return 0, fmt.Errorf("invalid %d-bit integer %q", bits, s)
	}
	return 0, err
}

func formatResults(results []stitch.Val) string {
	ret := make([]string, len(results))
	for i, r := range results {
		ret[i] = formatVal(r)
	}
	return strings.Join(ret, " ")
}

func formatVal(v stitch.Val) string {
	switch v.Type() {
	case stitch.ValTypeI32:
		return strconv.FormatInt(int64(v.I32()), 10)
	case stitch.ValTypeI64:
		return strconv.FormatInt(v.I64(), 10)
	case stitch.ValTypeF32:
		return formatFloat(float64(v.F32()), 32)
	case stitch.ValTypeF64:
		return formatFloat(v.F64(), 64)
	}
	return v.String()
}

func formatFloat(f float64, bits int) string {
	if math.IsNaN(f) {
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}
