// Command configtree resolves a JSON configuration file against a JSON
// schema file and prints the resolved configuration.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/configtree"
	"github.com/vk/configtree/internal/ctxlog"
	"github.com/vk/configtree/stdfuncs"
)

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main logic for easier testing and error
// handling.
func run(outW io.Writer, args []string) error {
	flags := flag.NewFlagSet("configtree", flag.ContinueOnError)
	flags.SetOutput(outW)
	schemaPath := flags.String("schema", "", "path to the schema file (JSON); defaults to the permissive schema")
	globalsJSON := flags.String("globals", "", "global variables as a JSON object")
	injectRootAs := flags.String("inject-root-as", "", "variable name bound to the root of the configuration")
	verbose := flags.Bool("verbose", false, "enable debug logging")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: configtree [flags] <config.json>")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	var cfg any
	if err := readJSONFile(flags.Arg(0), &cfg); err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}

	schema := configtree.Any()
	if *schemaPath != "" {
		var rawSchema any
		if err := readJSONFile(*schemaPath, &rawSchema); err != nil {
			return fmt.Errorf("reading schema: %w", err)
		}
		parsed, err := configtree.ParseSchema(rawSchema)
		if err != nil {
			return err
		}
		schema = parsed
	}

	options := []configtree.Option{
		configtree.WithFunctions(configtree.CoreFunctions().Merge(stdfuncs.All())),
	}
	if *globalsJSON != "" {
		var globals map[string]any
		if err := json.Unmarshal([]byte(*globalsJSON), &globals); err != nil {
			return fmt.Errorf("parsing globals: %w", err)
		}
		options = append(options, configtree.WithGlobalVariables(globals))
	}
	if *injectRootAs != "" {
		options = append(options, configtree.WithInjectRootAs(*injectRootAs))
	}

	resolved, err := configtree.Resolve(ctx, cfg, schema, options...)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(outW)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resolved)
}

func readJSONFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
