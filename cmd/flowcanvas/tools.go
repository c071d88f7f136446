package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/catalog"
	"github.com/BaSui01/flowcanvas/workflow/execution"
	"github.com/BaSui01/flowcanvas/workflow/projection"
	"github.com/BaSui01/flowcanvas/workflow/transport"
)

// =============================================================================
// 🧩 compile 命令
// =============================================================================

type compileOptions struct {
	id          string
	name        string
	description string
	catalogDir  string
	format      string
}

func runCompile(args []string) {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	in := fs.String("in", "", "Canvas JSON document")
	out := fs.String("out", "", "Output file (stdout when empty)")
	var opts compileOptions
	fs.StringVar(&opts.format, "format", "", "Output format: yaml or json")
	fs.StringVar(&opts.id, "id", "", "Workflow id override")
	fs.StringVar(&opts.name, "name", "", "Workflow name override")
	fs.StringVar(&opts.description, "description", "", "Workflow description override")
	fs.StringVar(&opts.catalogDir, "catalog", "", "Catalog directory for reference checks")
	_ = fs.Parse(args)

	if *in == "" {
		fmt.Fprintln(os.Stderr, "compile requires --in")
		os.Exit(1)
	}
	if opts.format == "" && *out != "" {
		opts.format = strings.TrimPrefix(strings.ToLower(filepath.Ext(*out)), ".")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read canvas: %v\n", err)
		os.Exit(1)
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	if err := compileCanvas(context.Background(), data, opts, w, zap.NewNop()); err != nil {
		fmt.Fprintf(os.Stderr, "Compile failed: %v\n", err)
		os.Exit(1)
	}
}

// compileCanvas compiles a canvas document and writes the workflow to w.
func compileCanvas(ctx context.Context, data []byte, opts compileOptions, w io.Writer, logger *zap.Logger) error {
	canvas, err := workflow.ParseCanvas(data)
	if err != nil {
		return err
	}
	g, err := workflow.LoadCanvas(canvas)
	if err != nil {
		return err
	}

	copts := []workflow.CompilerOption{workflow.WithLogger(logger)}
	if opts.catalogDir != "" {
		reg := catalog.NewRegistry(logger)
		if _, err := reg.LoadDir(opts.catalogDir); err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}
		copts = append(copts, workflow.WithResolver(reg))
	}

	wf, err := workflow.NewCompiler(copts...).CompileWithID(ctx,
		firstNonEmpty(opts.id, canvas.ID),
		g,
		firstNonEmpty(opts.name, canvas.Name),
		firstNonEmpty(opts.description, canvas.Description),
	)
	if err != nil {
		return err
	}

	var encoded []byte
	switch strings.ToLower(opts.format) {
	case "", "yaml", "yml":
		encoded, err = wf.ToYAML()
	case "json":
		encoded, err = wf.ToJSON()
	default:
		return fmt.Errorf("unsupported output format %q", opts.format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(encoded)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// 🎬 replay 命令
// =============================================================================

func runReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	wfPath := fs.String("workflow", "", "Compiled workflow file")
	events := fs.String("events", "", "Newline-delimited event file")
	streamURL := fs.String("url", "", "Live stream URL")
	catalogDir := fs.String("catalog", "", "Catalog directory for node labels")
	verbose := fs.Bool("verbose", false, "Print every applied event")
	_ = fs.Parse(args)

	if *wfPath == "" || (*events == "") == (*streamURL == "") {
		fmt.Fprintln(os.Stderr, "replay requires --workflow and exactly one of --events or --url")
		os.Exit(1)
	}

	wf, err := workflow.LoadFromFile(*wfPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load workflow: %v\n", err)
		os.Exit(1)
	}

	var src transport.Source
	if *events != "" {
		src = transport.FileSource(*events)
	} else {
		src = &transport.WebSocketSource{URL: *streamURL}
	}

	var popts []projection.Option
	if *catalogDir != "" {
		reg := catalog.NewRegistry(nil)
		if _, err := reg.LoadDir(*catalogDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load catalog: %v\n", err)
			os.Exit(1)
		}
		popts = append(popts, projection.WithLabeler(reg.Label))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := replay(ctx, wf, src, os.Stdout, *verbose, popts...); err != nil {
		fmt.Fprintf(os.Stderr, "Replay failed: %v\n", err)
		os.Exit(1)
	}
}

// replay follows src to the end and writes the final frame as JSON. With
// verbose set, one line per applied event precedes it.
func replay(ctx context.Context, wf *workflow.CompiledWorkflow, src transport.Source, w io.Writer, verbose bool, popts ...projection.Option) error {
	session := transport.NewSession(wf, src, nil,
		transport.WithMaxReconnects(0),
		transport.WithProjection(popts...),
	)
	defer session.Close()

	if verbose {
		session.OnUpdate(func(frame *projection.DrawableGraph, ev execution.Event) {
			target := ev.NodeID
			if target == "" {
				target = "-"
			}
			fmt.Fprintf(w, "%-16s %-20s run=%-10s progress=%3.0f%%\n",
				ev.Type, target, frame.RunStatus, frame.Progress*100)
		})
	}

	if err := session.Run(ctx); err != nil {
		return err
	}

	stats := session.Stats()
	frame := session.Snapshot()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Frame *projection.DrawableGraph `json:"frame"`
		Stats execution.Stats          `json:"stats"`
	}{frame, stats})
}
