// Rill CLI - compiles and runs Rill programs, and hosts the editor and
// session servers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/chazu/rill/cache"
	"github.com/chazu/rill/hostlib"
	"github.com/chazu/rill/manifest"
	"github.com/chazu/rill/server"
	"github.com/chazu/rill/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("rill.cli")

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string   { return strconv.Itoa(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }

func (v *verbosity) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if b {
		*v++
	}
	return nil
}

// options are the command line settings after merging rill.toml.
type options struct {
	entry     string
	optimize  bool
	disasm    bool
	output    string
	lsp       bool
	serve     bool
	noCache   bool
	verbosity int
	paths     []string
}

func main() {
	var verbose verbosity
	entry := flag.String("m", "", "Entry function (e.g. 'main' or 'app::start')")
	optimize := flag.Bool("O", false, "Compile with the optimizing lowering")
	disasm := flag.Bool("disasm", false, "Print the disassembly of every compiled unit")
	output := flag.String("o", "", "Write compiled units (.rlc) to a file or directory")
	lsp := flag.Bool("lsp", false, "Start the language server on stdio")
	serve := flag.Bool("serve", false, "Start the session server (Connect + gRPC)")
	noCache := flag.Bool("no-cache", false, "Bypass the compiled unit cache")
	flag.Var(&verbose, "v", "Verbose output (repeat for more)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rill [options] [files|dirs...]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles .rill files (or a rill.toml project) and runs the entry function.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  rill hello.rill               # Run main in hello.rill\n")
		fmt.Fprintf(os.Stderr, "  rill ./src -m app::start      # Load src/, run app::start\n")
		fmt.Fprintf(os.Stderr, "  rill -O -disasm lib.rill      # Show optimized bytecode\n")
		fmt.Fprintf(os.Stderr, "  rill -o lib.rlc lib.rill      # Write a compiled unit\n")
		fmt.Fprintf(os.Stderr, "  rill -serve                   # Serve sessions on :4567 (gRPC :4568)\n")
		fmt.Fprintf(os.Stderr, "  rill -lsp                     # Language server on stdio\n")
	}
	flag.Parse()

	cwd, err := os.Getwd()
	if err != nil {
		fatal(err)
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		fatal(err)
	}
	if m == nil {
		// No project: don't leave a cache behind in arbitrary directories.
		m = manifest.Default(cwd)
		m.Build.Cache = "none"
	}

	opts := options{
		entry:     *entry,
		optimize:  *optimize || m.Build.Optimize,
		disasm:    *disasm,
		output:    *output,
		lsp:       *lsp,
		serve:     *serve,
		noCache:   *noCache,
		verbosity: int(verbose) + m.Log.Verbosity,
		paths:     flag.Args(),
	}

	logFile := m.LogFile()
	if opts.lsp && logFile == "" {
		// stdout and stdin carry the protocol
		logFile = os.DevNull
	}
	var logPath *string
	if logFile != "" {
		logPath = &logFile
	}
	commonlog.Configure(opts.verbosity, logPath)

	if opts.lsp {
		if err := server.NewLSP().Run(); err != nil {
			fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var c *cache.Cache
	if path := m.CachePath(); path != "" && !opts.noCache {
		if c, err = cache.Open(path); err != nil {
			log.Warningf("unit cache disabled: %s", err)
			c = nil
		}
	}

	code := 0
	if opts.serve {
		if err := serveSessions(ctx, m, c, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			code = 1
		}
	} else {
		code = run(ctx, m, c, opts)
	}
	if c != nil {
		c.Close()
	}
	os.Exit(code)
}

// run builds the program and calls its entry function. It returns the
// process exit code.
func run(ctx context.Context, m *manifest.Manifest, c *cache.Cache, opts options) int {
	files, err := collect(m, opts.paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(files) == 0 {
		flag.Usage()
		return 2
	}

	b := &builder{cache: c, optimize: opts.optimize, stderr: os.Stderr}
	units, err := b.compileAll(ctx, files)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if opts.disasm {
		for _, u := range units {
			fmt.Print(u.Disassemble())
		}
	}
	if opts.output != "" {
		if err := writeUnits(opts.output, units); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if opts.entry == "" {
			return 0
		}
	}
	if opts.disasm && opts.entry == "" {
		return 0
	}

	session, err := hostlib.NewSession(vm.WithMaxFrames(m.Build.MaxFrames))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := loadAll(session, units); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	module, fn := entryPoint(m, opts.entry, units)
	mod, ok := session.Module(module)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: entry module %q is not loaded\n", module)
		return 1
	}
	log.Debugf("running %s::%s", module, fn)

	out, err := hostlib.Run(ctx, session, mod, fn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return exitCode(out)
}

// exitCode maps the entry function's outcome to a process exit code:
// an int result is used as is, a fault is 1.
func exitCode(out vm.Outcome) int {
	switch out.Status {
	case vm.Faulted:
		fmt.Fprintf(os.Stderr, "error: %v\n", out.Err)
		for _, f := range out.Err.Trace {
			fmt.Fprintf(os.Stderr, "  at %s\n", f)
		}
		return 1
	case vm.Completed:
		defer out.Value.Release()
		if out.Value.IsInt() {
			return int(out.Value.AsInt())
		}
		if s, ok := out.Value.AsStruct(); ok && s.Type.Module == nil && s.Type.Def.Name == vm.NameErr {
			fmt.Fprintf(os.Stderr, "error: %s\n", vm.Debug(s.Fields[0]))
			return 1
		}
	}
	return 0
}

func serveSessions(ctx context.Context, m *manifest.Manifest, c *cache.Cache, opts options) error {
	srv := server.New(
		server.WithCache(c),
		server.WithOptimize(opts.optimize),
		server.WithMaxFrames(m.Build.MaxFrames),
		server.WithContinuationTTL(m.Server.ContinuationTTL.Duration),
	)
	defer srv.Stop()
	return srv.ListenAndServe(ctx, m.Server.Addr, m.Server.GRPCAddr)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
