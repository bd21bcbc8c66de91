package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.bytecodealliance.org/wit"
	"golang.org/x/term"

	"github.com/wippyai/wasm-strings/boundary"
	"github.com/wippyai/wasm-strings/heap"
	"github.com/wippyai/wasm-strings/runtime"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to a TOML config file")
		wasmFile    = flag.String("wasm", "", "Guest module (default: built-in guest)")
		pages       = flag.Uint("pages", 0, "Runtime memory limit in 64KB pages (0 = default)")
		guestPages  = flag.Uint("guest-pages", 0, "Built-in guest memory limit in pages (0 = unbounded)")
		host        = flag.Bool("host", true, "Build the guest with the host concat import")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		arena       = flag.Bool("arena", false, "Run on a Go heap arena instead of a guest")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: wstr [flags] [left] [right]")
		fmt.Fprintln(os.Stderr, "       wstr -i  (interactive mode)")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := defaultConfig()
	if *configFile != "" {
		loaded, err := loadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// explicit flags win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "wasm":
			cfg.Wasm = *wasmFile
		case "pages":
			cfg.MemoryLimitPages = uint32(*pages)
		case "guest-pages":
			cfg.GuestMaxPages = uint32(*guestPages)
		case "host":
			cfg.HostImport = *host
		case "log-level":
			cfg.LogLevel = *logLevel
		case "i":
			cfg.Interactive = *interactive
		}
	})

	left, right := "hello", "world"
	if args := flag.Args(); len(args) > 0 {
		left = args[0]
		if len(args) > 1 {
			right = args[1]
		}
	}

	if cfg.Interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *arena {
		if err := runArena(cfg, left, right, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(context.Background(), cfg, left, right, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(cfg config) (func(), error) {
	log, err := cfg.newLogger()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	runtime.SetLogger(log)
	boundary.SetLogger(log)
	heap.SetLogger(log)
	return func() { _ = log.Sync() }, nil
}

func instantiate(ctx context.Context, rt *runtime.Runtime, cfg config) (*runtime.Instance, error) {
	if cfg.Wasm == "" {
		return rt.InstantiateGuest(ctx, cfg.guestConfig())
	}
	data, err := os.ReadFile(cfg.Wasm)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return rt.Instantiate(ctx, data)
}

// run walks one string through every boundary operation: adopt, duplicate,
// concatenate on each side, release.
func run(ctx context.Context, cfg config, left, right string, out io.Writer) error {
	flush, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer flush()

	rt, err := runtime.NewWithConfig(ctx, cfg.runtimeConfig())
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	inst, err := instantiate(ctx, rt, cfg)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	defer inst.Close(ctx)

	tr := inst.Transfer(ctx)

	fmt.Fprintf(out, "Guest: %s (%d bytes of memory)\n", guestName(cfg), inst.MemorySize())
	fmt.Fprintf(out, "Export: %s\n\n", formatSignature("concat", runtime.ConcatSignature))

	rawLeft, err := inst.WriteCString(ctx, left)
	if err != nil {
		return fmt.Errorf("write left: %w", err)
	}
	first, err := tr.Set(rawLeft)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	printString(out, "set", tr, first)

	rawRight, err := inst.WriteCString(ctx, right)
	if err != nil {
		return fmt.Errorf("write right: %w", err)
	}
	second, err := tr.Dup(rawRight)
	if err != nil {
		return fmt.Errorf("dup: %w", err)
	}
	printString(out, "dup", tr, second)

	// the nul-terminated source stays with its writer; adopt it to release it
	source, err := tr.Set(rawRight)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}

	joined, err := tr.Concat(first, second)
	if err != nil {
		return fmt.Errorf("concat: %w", err)
	}
	printString(out, "concat", tr, joined)

	guest, err := inst.Concat(ctx, left, right)
	if err != nil {
		return fmt.Errorf("guest concat: %w", err)
	}
	fmt.Fprintf(out, "%-8s %q\n", "guest", guest)

	if inst.HasHostImport() {
		hosted, err := inst.HostConcat(ctx, left, right)
		if err != nil {
			return fmt.Errorf("host concat: %w", err)
		}
		fmt.Fprintf(out, "%-8s %q\n", "host", hosted)
	}

	for _, s := range []*boundary.String{&first, &second, &source, &joined} {
		if err := tr.Free(s); err != nil {
			return fmt.Errorf("free: %w", err)
		}
	}
	fmt.Fprintf(out, "\nowned after free: %d\n", tr.Owned())
	return nil
}

// runArena performs the same walk on a Go heap arena, without wasm.
func runArena(cfg config, left, right string, out io.Writer) error {
	flush, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer flush()

	mem := heap.NewWithConfig(&heap.Config{MaxPages: cfg.GuestMaxPages})
	tr := boundary.NewTransferWithConfig(mem, mem, &boundary.Config{Name: "arena", ScanLimit: cfg.ScanLimit})

	rawLeft, err := boundary.WriteCString(mem, mem, left)
	if err != nil {
		return fmt.Errorf("write left: %w", err)
	}
	first, err := tr.Set(rawLeft)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	printString(out, "set", tr, first)

	second, err := tr.DupString(right)
	if err != nil {
		return fmt.Errorf("dup: %w", err)
	}
	printString(out, "dup", tr, second)

	joined, err := tr.Concat(first, second)
	if err != nil {
		return fmt.Errorf("concat: %w", err)
	}
	printString(out, "concat", tr, joined)

	for _, s := range []*boundary.String{&first, &second, &joined} {
		if err := tr.Free(s); err != nil {
			return fmt.Errorf("free: %w", err)
		}
	}
	st := mem.Stats()
	fmt.Fprintf(out, "\nowned after free: %d (arena: %d live, %d free bytes, %d pages)\n",
		tr.Owned(), st.Live, st.FreeBytes, st.Pages)
	return nil
}

func guestName(cfg config) string {
	if cfg.Wasm != "" {
		return cfg.Wasm
	}
	return "built-in"
}

func printString(out io.Writer, label string, tr *boundary.Transfer, s boundary.String) {
	text, err := tr.Text(s)
	if err != nil {
		fmt.Fprintf(out, "%-8s <%v>\n", label, err)
		return
	}
	fmt.Fprintf(out, "%-8s %q (ptr=0x%x, len=%d)\n", label, text, s.Ptr, s.Len)
}

func formatSignature(name string, sig runtime.Signature) string {
	params := []string{"left", "right"}
	var b strings.Builder
	b.WriteString(name)
	b.WriteString(": func(")
	for i, p := range sig.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		pname := fmt.Sprintf("arg%d", i)
		if i < len(params) {
			pname = params[i]
		}
		b.WriteString(pname + ": " + witTypeStr(p))
	}
	b.WriteString(")")
	if len(sig.Results) > 0 {
		b.WriteString(" -> " + witTypeStr(sig.Results[0]))
	}
	return b.String()
}

func witTypeStr(t wit.Type) string {
	switch v := t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		return "typedef"
	default:
		return fmt.Sprintf("%T", t)
	}
}
