// Command clibridge runs a command-line model tool as a bounded-time text
// transformation service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/clibridge"
	"github.com/deixis/clibridge/internal/api"
	"github.com/deixis/clibridge/internal/config"
	"github.com/deixis/clibridge/internal/history"
	bridgelog "github.com/deixis/clibridge/internal/log"
	bridgemcp "github.com/deixis/clibridge/internal/mcp"
	"github.com/deixis/clibridge/internal/metrics"
	"github.com/deixis/clibridge/internal/model"
	"github.com/deixis/clibridge/internal/runner"
	"github.com/deixis/clibridge/internal/workflow"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("clibridge: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "transform":
		err = transformMain(args)
	case "models":
		err = modelsMain(args)
	case "status":
		err = statusMain(args)
	case "inspect":
		err = inspectMain(args)
	case "config":
		err = configMain(args)
	case "mcp":
		err = mcpMain(args)
	case "serve":
		err = serveMain(args)
	case "version":
		fmt.Println(clibridge.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "clibridge: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		os.Exit(exitCode(err))
	}
}

// errBackendUnavailable makes status exit non-zero once its report is printed.
var errBackendUnavailable = errors.New("backend unavailable")

// exitCode logs err unless the command already reported it and returns the
// process exit status. Commands return instead of exiting so their deferred
// cleanup runs.
func exitCode(err error) int {
	if !errors.Is(err, errBackendUnavailable) {
		log.Print(err)
	}
	return 1
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: clibridge <command> [flags]

Commands:
  transform   Transform text (from -text, arguments or stdin) with an instruction
  models      List the model variants
  status      Check whether the backend is installed
  inspect     Show a stored run (requires history.path)
  config      Print the effective configuration
  mcp         Start the MCP server (stdio, or HTTP with -http)
  serve       Start the HTTP API
  version     Print the version
  help        Show this help

Configuration is read from .clibridge in the working directory and
CLIBRIDGE_* environment variables.

Use "clibridge <command> -h" for command-specific flags.`)
}

// --- transform ---

func transformMain(args []string) error {
	fs := flag.NewFlagSet("transform", flag.ExitOnError)
	textFlag := fs.String("text", "", "text to transform (default: remaining arguments, then stdin)")
	instrFlag := fs.String("i", "", "instruction describing the transformation")
	modelFlag := fs.String("model", "", "model variant (default from config)")
	timeoutFlag := fs.Duration("timeout", 0, "override configured timeout (e.g. 10s)")
	jsonFlag := fs.Bool("json", false, "output the outcome as JSON")
	_ = fs.Parse(args)

	if strings.TrimSpace(*instrFlag) == "" {
		return errors.New("transform: -i instruction is required")
	}
	text, err := readText(*textFlag, fs.Args(), os.Stdin)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := newApp(ctx, *timeoutFlag, false)
	if err != nil {
		return err
	}
	defer app.Close()

	out := app.engine.Transform(ctx, runner.Request{
		Text:        text,
		Instruction: *instrFlag,
		Model:       *modelFlag,
	})
	return writeOutcome(os.Stdout, out, *jsonFlag)
}

// readText picks the payload: the -text flag, then positional arguments,
// then stdin.
func readText(flagText string, args []string, stdin io.Reader) (string, error) {
	if flagText != "" {
		return flagText, nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

// writeOutcome prints the text to use. A failed transformation still prints
// the original text; the failure itself has already been logged.
func writeOutcome(w io.Writer, out *workflow.Outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	_, err := io.WriteString(w, out.Text)
	if err == nil && out.Text != "" && !strings.HasSuffix(out.Text, "\n") {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

// --- models ---

func modelsMain(args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output as JSON")
	_ = fs.Parse(args)

	loaded, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	def := loaded.Config.DefaultModel()

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(api.ModelsResponse{Default: def, Models: model.Variants()})
	}
	fmt.Print(formatModelsCLI(def))
	return nil
}

func formatModelsCLI(def string) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}
	for _, v := range model.Variants() {
		marker := " "
		if v.ID == def {
			marker = "*"
		}
		w("%s %-8s %s\n", marker, v.ID, v.Label)
	}
	if _, known := model.Lookup(def); !known {
		w("* %-8s (configured)\n", def)
	}
	return string(b)
}

// --- status ---

func statusMain(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output as JSON")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := newApp(ctx, 0, false)
	if err != nil {
		return err
	}
	defer app.Close()

	st := app.engine.Status(ctx)
	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	} else if st.Available {
		fmt.Printf("%s: available (%s)\n", app.runner.BinaryName(), st.Version)
	} else {
		fmt.Printf("%s: unavailable (%s)\n", app.runner.BinaryName(), st.Error)
	}

	if !st.Available {
		return errBackendUnavailable
	}
	return nil
}

// --- inspect ---

func inspectMain(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("inspect: exactly one run ID is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := newApp(ctx, 0, false)
	if err != nil {
		return err
	}
	defer app.Close()
	if !app.persistent {
		return errors.New("inspect: set history.path in .clibridge to keep runs between invocations")
	}

	rec, err := app.engine.Inspect(fs.Arg(0))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// --- config ---

func configMain(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	_ = fs.Parse(args)

	loaded, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if loaded.Path != "" {
		fmt.Printf("# %s\n", loaded.Path)
	} else {
		fmt.Printf("# no %s found, defaults and environment only\n", config.FileName)
	}
	data, err := loaded.Config.Effective().YAML()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(bridgemcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := newApp(ctx, 0, true)
	if err != nil {
		return err
	}
	defer app.Close()

	if *httpAddr != "" {
		server := bridgemcp.NewServer(app.engine)
		return serveMCPHTTP(ctx, server, *httpAddr)
	}
	server := bridgemcp.NewServer(app.engine, bridgemcp.WithRootConfig())
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func mcpHandler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)
}

func serveMCPHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: mcpHandler(server),
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	bridgelog.WithComponent("mcp").Info("listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- serve ---

func serveMain(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "listen address")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := newApp(ctx, 0, true)
	if err != nil {
		return err
	}
	defer app.Close()
	app.engine.Metrics = metrics.New()

	srv := api.New(
		api.Config{Listen: *addr, DefaultModel: app.runner.DefaultModel, RunTimeout: app.runner.Timeout},
		app.engine,
		app.engine.Metrics,
		mcpHandler(bridgemcp.NewServer(app.engine)),
		bridgelog.WithComponent("api"),
	)
	return srv.Start(ctx)
}

// --- shared ---

type app struct {
	engine     *workflow.Engine
	runner     *runner.Runner
	persistent bool
	closers    []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		_ = c()
	}
}

// newApp loads configuration from the working directory, installs the
// logger and wires the runner and history store. Without history.path,
// long-running commands spill evicted runs to a temp directory and one-shot
// commands keep them in memory only.
func newApp(ctx context.Context, timeoutOverride time.Duration, longRunning bool) (*app, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config
	bridgelog.Setup(cfg.LogLevel, cfg.LogJSON)
	if loaded.Path != "" {
		bridgelog.Get().Debug("configuration loaded", "path", loaded.Path)
	}

	r := cfg.NewRunner()
	r.Logger = bridgelog.WithComponent("runner")
	if timeoutOverride > 0 {
		r.Timeout = timeoutOverride
	}

	a := &app{runner: r}

	var back history.Store
	if cfg.History.Path != "" {
		db, err := history.OpenSQLite(ctx, cfg.History.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.persistent = true
		back = db
	} else if longRunning {
		back = history.NewDiskStore("")
	}

	a.engine = &workflow.Engine{
		Runner: r,
		Store:  history.NewLRUStore(cfg.HistoryCapacity(), back),
		Logger: bridgelog.WithComponent("workflow"),
	}
	return a, nil
}
