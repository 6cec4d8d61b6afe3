// Command gridstore manages chunked n-dimensional arrays stored in
// key-value backends, and can serve a backend to remote clients.
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
	"strconv"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/gridkv/gridstore/internal/logger"
	"github.com/gridkv/gridstore/pkg/array"
	"github.com/gridkv/gridstore/pkg/config"
	"github.com/gridkv/gridstore/pkg/driver"
	"github.com/gridkv/gridstore/pkg/driver/chunked"
	_ "github.com/gridkv/gridstore/pkg/driver/zarr"
	"github.com/gridkv/gridstore/pkg/kvstore"
	_ "github.com/gridkv/gridstore/pkg/kvstore/badger"
	_ "github.com/gridkv/gridstore/pkg/kvstore/memory"
	"github.com/gridkv/gridstore/pkg/kvstore/remote"
	_ "github.com/gridkv/gridstore/pkg/kvstore/s3"
)

const usage = `Usage: gridstore [-config FILE] COMMAND [ARGS]

Commands:
  init                      Write a starter config file
  serve                     Serve the configured backend over TCP
  create ARRAY              Create a configured array
  info ARRAY                Show an array's metadata
  read ARRAY -chunk I,J...  Read one chunk's raw bytes to stdout
  write ARRAY -chunk I,J... Write one chunk's raw bytes from stdin
  resize ARRAY -shape N,M   Change the array extents (-1 keeps a dimension)
`

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)
	args := flag.Args()[1:]

	if command == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "gridstore: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gridstore: %v\n", err)
		os.Exit(1)
	}
	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger.SetLevel(level)

	switch command {
	case "serve":
		err = runServe(cfg, args)
	case "create":
		err = runCreate(cfg, args)
	case "info":
		err = runInfo(cfg, args)
	case "read":
		err = runRead(cfg, args)
	case "write":
		err = runWrite(cfg, args)
	case "resize":
		err = runResize(cfg, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "gridstore: %v\n", err)
		os.Exit(1)
	}
}

func runInit() error {
	path := config.GetDefaultConfigPath()
	if config.ConfigExists() {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(config.GetConfigDir(), 0o755); err != nil {
		return err
	}

	doc := map[string]any{
		"logging": map[string]any{"level": "INFO"},
		"server":  map[string]any{"address": ":7470"},
		"store": map[string]any{
			"backend": "badger",
			"path":    filepath.Join(config.GetConfigDir(), "data"),
		},
		"arrays": map[string]any{
			"example": map[string]any{
				"driver": "zarr",
				"path":   "example/",
				"metadata": map[string]any{
					"shape":  []int64{100, 100},
					"chunks": []int64{10, 10},
					"dtype":  "<f4",
				},
			},
		},
	}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runServe(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	address := fs.String("address", cfg.Server.Address, "TCP listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := kvstore.Open(ctx, cfg.ServerStore())
	if err != nil {
		return err
	}
	defer kv.Close()

	srv := remote.NewServer(*address, kv)
	if err := srv.Listen(); err != nil {
		return err
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Serving %q backend on %s. Press Ctrl+C to stop.",
		cfg.ServerStore()["backend"], srv.Addr())

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping...")
		cancel()
		if err := <-serverDone; err != nil {
			return err
		}
		logger.Info("Server stopped gracefully")
	case err := <-serverDone:
		if err != nil {
			return err
		}
		logger.Info("Server stopped")
	}
	return nil
}

// openArray resolves a named array and opens it in the given mode.
func openArray(ctx context.Context, cfg *config.Config, name string, mode driver.OpenMode) (*chunked.Store, *driver.Context, error) {
	doc, err := cfg.ArrayDoc(name)
	if err != nil {
		return nil, nil, err
	}
	spec, err := driver.Resolve(doc)
	if err != nil {
		return nil, nil, err
	}

	dctx := driver.NewContext(driver.ContextOptions{CodecConcurrency: cfg.Codec.Concurrency})
	store, err := spec.Open(ctx, dctx, mode)
	if err != nil {
		_ = dctx.Close()
		return nil, nil, err
	}
	return store.(*chunked.Store), dctx, nil
}

func runCreate(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	ifMissing := fs.Bool("if-missing", false, "Open the array if it already exists")
	deleteExisting := fs.Bool("delete-existing", false, "Wipe existing contents under the path first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("create takes exactly one array name")
	}

	mode := driver.ModeCreate
	if *ifMissing {
		mode = driver.ModeOpenOrCreate
	}
	if *deleteExisting {
		mode |= driver.ModeDeleteExisting
	}

	ctx := context.Background()
	store, dctx, err := openArray(ctx, cfg, fs.Arg(0), mode)
	if err != nil {
		return err
	}
	defer dctx.Close()
	defer store.Close()

	fmt.Printf("Created %q with shape %v\n", fs.Arg(0), store.Shape())
	return nil
}

func runInfo(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("info takes exactly one array name")
	}

	ctx := context.Background()
	store, dctx, err := openArray(ctx, cfg, args[0], driver.ModeOpen)
	if err != nil {
		return err
	}
	defer dctx.Close()
	defer store.Close()

	grid := store.Grid()
	comp := grid.Components[store.ComponentIndex()]
	fmt.Printf("driver:      %s\n", store.Driver())
	fmt.Printf("shape:       %v\n", store.Shape())
	fmt.Printf("chunk shape: %v\n", grid.ChunkShape)
	fmt.Printf("grid shape:  %v\n", grid.GridShape(store.Shape()))
	fmt.Printf("components:  %d (selected %d)\n", len(grid.Components), store.ComponentIndex())
	fmt.Printf("cell shape:  %v\n", comp.CellShape)

	bound, err := store.BoundSpec()
	if err != nil {
		return err
	}
	doc, err := bound.ToConfig()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("spec:\n%s\n", raw)
	return nil
}

func runRead(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	chunkArg := fs.String("chunk", "", "Chunk indices, comma separated")
	output := fs.String("o", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *chunkArg == "" {
		return fmt.Errorf("read takes one array name and -chunk indices")
	}
	indices, err := parseIndices(*chunkArg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, dctx, err := openArray(ctx, cfg, fs.Arg(0), driver.ModeOpen)
	if err != nil {
		return err
	}
	defer dctx.Close()
	defer store.Close()

	components, err := store.ReadChunk(ctx, indices)
	if err != nil {
		return err
	}
	raw := components[store.ComponentIndex()].Materialize()

	out := io.Writer(os.Stdout)
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err = out.Write(raw)
	return err
}

func runWrite(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	chunkArg := fs.String("chunk", "", "Chunk indices, comma separated")
	input := fs.String("i", "", "Input file (default stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *chunkArg == "" {
		return fmt.Errorf("write takes one array name and -chunk indices")
	}
	indices, err := parseIndices(*chunkArg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, dctx, err := openArray(ctx, cfg, fs.Arg(0), driver.ModeOpen)
	if err != nil {
		return err
	}
	defer dctx.Close()
	defer store.Close()

	grid := store.Grid()
	if len(grid.Components) != 1 {
		return fmt.Errorf("raw chunk writes require a single-field dtype; this array has %d fields", len(grid.Components))
	}

	in := io.Reader(os.Stdin)
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		return err
	}

	comp := grid.Components[0]
	data, err := array.NewFromData(comp.FillValue.DType, comp.CellShape, raw)
	if err != nil {
		return err
	}
	return store.WriteChunk(ctx, indices, []*array.Array{data})
}

func runResize(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("resize", flag.ExitOnError)
	shapeArg := fs.String("shape", "", "New extents, comma separated; -1 keeps a dimension")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *shapeArg == "" {
		return fmt.Errorf("resize takes one array name and -shape extents")
	}
	extents, err := parseIndices(*shapeArg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, dctx, err := openArray(ctx, cfg, fs.Arg(0), driver.ModeOpen)
	if err != nil {
		return err
	}
	defer dctx.Close()
	defer store.Close()

	inclusiveMin := make([]int64, len(extents))
	exclusiveMax := make([]int64, len(extents))
	for i, extent := range extents {
		if extent < 0 {
			exclusiveMax[i] = chunked.ImplicitExtent
		} else {
			exclusiveMax[i] = extent
		}
	}
	if err := store.Resize(ctx, inclusiveMin, exclusiveMax); err != nil {
		return err
	}
	fmt.Printf("Resized %q to %v\n", fs.Arg(0), store.Shape())
	return nil
}

func parseIndices(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	out := make([]int64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", part)
		}
		out[i] = v
	}
	return out, nil
}
