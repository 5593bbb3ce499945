// contentrex/pkg/compiler/compiler.go

package compiler

import (
	"io"
	"slices"
	"strings"
	"time"
	"unsafe"

	"rgehrsitz/contentrex/pkg/automata"
	"rgehrsitz/contentrex/pkg/bytecode"
	"rgehrsitz/contentrex/pkg/logging"
	"rgehrsitz/contentrex/pkg/urlfilter"
)

const (
	// MaxNFASize bounds the NFAs cut from a filter tree. Smaller NFAs make more
	// DFAs to interpret; larger ones cost memory while compiling.
	MaxNFASize = 75000
	// SmallDFASize is the size under which DFAs are combined with others
	// rather than lowered on their own.
	SmallDFASize = 100
)

// Options tunes a compilation. Zero fields take the package defaults.
type Options struct {
	MaxNFASize   int
	SmallDFASize int
}

func (o Options) withDefaults() Options {
	if o.MaxNFASize <= 0 {
		o.MaxNFASize = MaxNFASize
	}
	if o.SmallDFASize <= 0 {
		o.SmallDFASize = SmallDFASize
	}
	return o
}

// CompileRuleList parses a JSON rule list and compiles it into client.
func CompileRuleList(client Client, ruleJSON []byte, opts Options) error {
	rules, err := ParseRuleList(ruleJSON)
	if err != nil {
		return err
	}
	return Compile(client, rules, opts)
}

// Compile turns rules into an action table and bytecode and streams them to
// client. It stops at the first invalid url-filter or failed write; anything
// already written stays written.
func Compile(client Client, rules []Rule, opts Options) error {
	opts = opts.withDefaults()
	start := time.Now()

	actions, actionLocations := SerializeActions(rules)
	if err := client.WriteActions(actions); err != nil {
		return storeError("actions", err)
	}
	logging.LogLargeStructure("actions", cap(actions))
	actions = nil

	universalWithoutConditions := map[uint64]struct{}{}
	universalWithConditions := map[uint64]struct{}{}
	filtersWithoutConditions := urlfilter.NewCombinedURLFilters()
	filtersWithConditions := urlfilter.NewCombinedURLFilters()
	conditionFilters := urlfilter.NewCombinedURLFilters()
	withoutConditionsParser := urlfilter.NewParser(filtersWithoutConditions)
	withConditionsParser := urlfilter.NewParser(filtersWithConditions)

	for i := range rules {
		trigger := &rules[i].Trigger
		actionLocationAndFlags := uint64(trigger.Flags)<<32 | uint64(actionLocations[i])

		parser, universal := withoutConditionsParser, universalWithoutConditions
		if len(trigger.Conditions) > 0 {
			if trigger.ConditionType == ConditionIfDomain {
				actionLocationAndFlags |= bytecode.IfConditionFlag
			}
			parser, universal = withConditionsParser, universalWithConditions
		}

		status := parser.AddPattern(trigger.URLFilter, trigger.URLFilterIsCaseSensitive, actionLocationAndFlags)
		if status == urlfilter.MatchesEverything {
			universal[actionLocationAndFlags] = struct{}{}
			status = urlfilter.Ok
		}
		if status != urlfilter.Ok {
			err := logging.NewError(logging.ErrorTypeCompile, "error while parsing url-filter", ErrJSONInvalidRegex, map[string]interface{}{
				"rule_index": i,
				"url_filter": trigger.URLFilter,
				"status":     status.String(),
			})
			logging.LogError(logging.Logger, err)
			return err
		}

		for _, domain := range trigger.Conditions {
			conditionFilters.AddDomain(actionLocationAndFlags, domain)
		}
	}
	logging.LogLargeStructure("rules", len(rules)*int(unsafe.Sizeof(Rule{})))
	logging.LogLargeStructure("action locations", cap(actionLocations)*4)
	rules, actionLocations = nil, nil

	logging.Logger.Debug().Dur("elapsed", time.Since(start)).Msg("Partitioned rules into filter groups")
	logging.LogLargeStructure("filters without conditions", filtersWithoutConditions.MemoryUsed())
	logging.LogLargeStructure("filters with conditions", filtersWithConditions.MemoryUsed())
	logging.LogLargeStructure("condition filters", conditionFilters.MemoryUsed())

	start = time.Now()
	withoutConditions := &streamWriter{
		name:      "filters without conditions",
		write:     client.WriteFiltersWithoutConditionsBytecode,
		universal: sortedActions(universalWithoutConditions),
	}
	if err := withoutConditions.lowerFilters(filtersWithoutConditions, opts); err != nil {
		return err
	}
	universalWithoutConditions = nil

	withConditions := &streamWriter{
		name:      "filters with conditions",
		write:     client.WriteFiltersWithConditionsBytecode,
		universal: sortedActions(universalWithConditions),
	}
	if err := withConditions.lowerFilters(filtersWithConditions, opts); err != nil {
		return err
	}
	universalWithConditions = nil

	conditioned := &streamWriter{name: "condition filters", write: client.WriteConditionedFiltersBytecode}
	conditionFilters.ProcessNFAs(opts.MaxNFASize, func(nfa *automata.NFA) {
		logging.LogLargeStructure("condition filters NFA", nfa.MemoryUsed())
		traceGraph("condition filters NFA", nfa)
		dfa := automata.NFAToDFA(nfa)
		logging.LogLargeStructure("condition filters DFA", dfa.MemoryUsed())
		traceGraph("condition filters DFA", dfa)
		// Every condition action is distinct and the DFA is tree shaped, so
		// minimizing would gain little.
		conditioned.lower(dfa)
	})
	if !conditionFilters.IsEmpty() {
		panic("compiler: condition filters left after processing")
	}
	if conditioned.err != nil {
		return conditioned.err
	}

	logging.Logger.Debug().
		Dur("elapsed", time.Since(start)).
		Int("machines_without_conditions", withoutConditions.machines).
		Int("bytecode_without_conditions", withoutConditions.bytes).
		Int("machines_with_conditions", withConditions.machines).
		Int("bytecode_with_conditions", withConditions.bytes).
		Int("condition_machines", conditioned.machines).
		Msg("Built and compiled DFAs")

	if err := client.Finalize(); err != nil {
		return storeError("finalize", err)
	}
	return nil
}

// streamWriter lowers the DFAs of one bytecode stream and writes them to the
// client. Universal actions go on the root of the first DFA written.
type streamWriter struct {
	name      string
	write     func([]byte) error
	universal []uint64

	written  bool
	machines int
	bytes    int
	err      error
}

func (w *streamWriter) lower(dfa *automata.DFA) {
	if w.err != nil {
		return
	}
	if dfa.Nodes[dfa.Root].HasActions() {
		panic("compiler: a DFA root carries actions that do not match every URL")
	}
	if !w.written {
		addUniversalActions(dfa, w.universal)
	}

	chunk := bytecode.Compile(dfa)
	logging.LogLargeStructure(w.name+" bytecode", cap(chunk))
	if err := w.write(chunk); err != nil {
		w.err = storeError(w.name, err)
		return
	}
	w.written = true
	w.machines++
	w.bytes += len(chunk)
}

// lowerFilters turns the filter tree into at least one chunk. Small DFAs are
// combined; large ones are minimized and lowered on their own.
func (w *streamWriter) lowerFilters(filters *urlfilter.CombinedURLFilters, opts Options) error {
	var combiner automata.DFACombiner
	filters.ProcessNFAs(opts.MaxNFASize, func(nfa *automata.NFA) {
		logging.LogLargeStructure(w.name+" NFA", nfa.MemoryUsed())
		traceGraph(w.name+" NFA", nfa)
		dfa := automata.NFAToDFA(nfa)
		logging.LogLargeStructure(w.name+" DFA", dfa.MemoryUsed())
		traceGraph(w.name+" DFA", dfa)

		if dfa.GraphSize() < opts.SmallDFASize {
			combiner.AddDFA(dfa)
			return
		}
		dfa.Minimize()
		w.lower(dfa)
	})
	if !filters.IsEmpty() {
		panic("compiler: " + w.name + " left after processing")
	}
	combiner.CombineDFAs(opts.SmallDFASize, func(dfa *automata.DFA) {
		logging.LogLargeStructure(w.name+" combined DFA", dfa.MemoryUsed())
		w.lower(dfa)
	})
	if w.err != nil {
		return w.err
	}

	// Interpreters expect at least one DFA per stream.
	if !w.written {
		w.lower(automata.EmptyDFA())
	}
	logging.LogLargeStructure(w.name+" universal actions", cap(w.universal)*8)
	w.universal = nil
	return w.err
}

// traceGraph logs the Graphviz form of an automaton at trace level.
func traceGraph(stage string, graph interface{ WriteDot(io.Writer) error }) {
	event := logging.Logger.Trace()
	if !event.Enabled() {
		return
	}
	var dot strings.Builder
	if err := graph.WriteDot(&dot); err != nil {
		event.Err(err)
	}
	event.Str("stage", stage).Str("dot", dot.String()).Msg("Automaton graph")
}

func addUniversalActions(dfa *automata.DFA, universal []uint64) {
	if len(universal) == 0 {
		return
	}
	dfa.SetNodeActions(dfa.Root, universal)
}

func sortedActions(set map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(set))
	for action := range set {
		out = append(out, action)
	}
	slices.Sort(out)
	return out
}

func storeError(stage string, err error) error {
	ruleErr := logging.NewError(logging.ErrorTypeStore, "failed to write compiled rule list", err, map[string]interface{}{
		"stage": stage,
	})
	logging.LogError(logging.Logger, ruleErr)
	return ruleErr
}
