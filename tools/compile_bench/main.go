// contentrex/tools/compile_bench/main.go

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/schollz/progressbar/v3"

	"rgehrsitz/contentrex/pkg/compiler"
	"rgehrsitz/contentrex/pkg/logging"
)

type benchOptions struct {
	iterations   int
	maxNFASize   int
	smallDFASize int
	quiet        bool
}

type result struct {
	file     string
	rules    int
	min      time.Duration
	median   time.Duration
	max      time.Duration
	actions  int
	bytecode int
	machines int
}

func parseFlags(args []string) (benchOptions, []string, error) {
	var opts benchOptions
	flags := flag.NewFlagSet("compile_bench", flag.ContinueOnError)
	flags.IntVar(&opts.iterations, "iterations", 10, "Compilations per rule list")
	flags.IntVar(&opts.maxNFASize, "max-nfa", compiler.MaxNFASize, "Largest NFA cut from a filter tree")
	flags.IntVar(&opts.smallDFASize, "small-dfa", compiler.SmallDFASize, "DFAs smaller than this are combined")
	flags.BoolVar(&opts.quiet, "quiet", false, "Hide the progress bar")
	if err := flags.Parse(args); err != nil {
		return benchOptions{}, nil, err
	}
	if opts.iterations < 1 {
		return benchOptions{}, nil, fmt.Errorf("iterations must be positive")
	}
	if flags.NArg() == 0 {
		return benchOptions{}, nil, fmt.Errorf("no rule list given")
	}
	return opts, flags.Args(), nil
}

func benchmarkFile(file string, opts benchOptions, progress io.Writer) (result, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return result{}, err
	}
	rules, err := compiler.ParseRuleList(data)
	if err != nil {
		return result{}, err
	}

	bar := progressbar.NewOptions(opts.iterations,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription(filepath.Base(file)),
		progressbar.OptionShowCount(),
	)

	res := result{file: file, rules: len(rules)}
	durations := make([]time.Duration, 0, opts.iterations)
	compileOpts := compiler.Options{MaxNFASize: opts.maxNFASize, SmallDFASize: opts.smallDFASize}
	for i := 0; i < opts.iterations; i++ {
		ext := &compiler.CompiledExtension{}
		start := time.Now()
		if err := compiler.Compile(ext, rules, compileOpts); err != nil {
			return result{}, err
		}
		durations = append(durations, time.Since(start))

		res.actions = len(ext.Actions)
		res.bytecode = ext.BytecodeSize()
		res.machines = len(ext.FiltersWithoutConditions) + len(ext.FiltersWithConditions) + len(ext.ConditionedFilters)
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintln(progress)

	slices.Sort(durations)
	res.min = durations[0]
	res.median = durations[len(durations)/2]
	res.max = durations[len(durations)-1]
	return res, nil
}

func writeResults(w io.Writer, results []result) {
	fmt.Fprintf(w, "%-24s %7s %10s %10s %10s %9s %10s %8s\n", "file", "rules", "min", "median", "max", "actions", "bytecode", "machines")
	for _, r := range results {
		fmt.Fprintf(w, "%-24s %7d %10s %10s %10s %9d %10d %8d\n",
			filepath.Base(r.file), r.rules,
			r.min.Round(time.Microsecond), r.median.Round(time.Microsecond), r.max.Round(time.Microsecond),
			r.actions, r.bytecode, r.machines)
	}
}

func run(args []string, out io.Writer) error {
	opts, files, err := parseFlags(args)
	if err != nil {
		return err
	}

	progress := io.Writer(os.Stderr)
	if opts.quiet {
		progress = io.Discard
	}

	results := make([]result, 0, len(files))
	for _, file := range files {
		res, err := benchmarkFile(file, opts, progress)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		results = append(results, res)
	}
	writeResults(out, results)
	return nil
}

func main() {
	if err := logging.ConfigureLogger("warn", "console"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
