// sum is a two-phase reporting plugin: the distributed pre-phase totals the
// requested fields on each indexer, the reduce phase folds those partial
// totals into one record. Run it as:
//
//	| sum total=total_amount amount
package main

import (
	"os"
	"strconv"

	"github.com/mattjoyce/searchplug/internal/engine"
	"github.com/mattjoyce/searchplug/internal/options"
	"github.com/mattjoyce/searchplug/internal/runtime"
)

func main() {
	rt := runtime.New()

	def := engine.Definition{
		Name: "sum",
		Kind: engine.Reporting,
		Options: []*options.Option{
			{Name: "total", Validate: options.Fieldname{}, Require: true},
		},
		Map:    mapPhase,
		Reduce: reducer(),
	}

	eng, err := engine.New(def, rt)
	if err != nil {
		rt.Logger.Error("plugin declaration failed", "error", err)
		os.Exit(2)
	}
	if err := eng.Run(os.Args, os.Stdin, os.Stdout); err != nil {
		os.Exit(1)
	}
}

func totalField(inv *engine.Invocation) string {
	name, _ := inv.Option("total").(string)
	return name
}

// mapPhase sums the requested fieldnames across its slice of the input and
// emits one partial total per exchange. Partials are additive, so the reduce
// phase folds them no matter how many chunks they arrived in.
func mapPhase(inv *engine.Invocation, in engine.Records) engine.Records {
	return func(yield func(*engine.Record) bool) {
		total := 0.0
		for rec := range in {
			for _, name := range inv.Fieldnames {
				total += numeric(rec.Get(name))
			}
		}
		yield(engine.NewRecord().Set(totalField(inv), total))
	}
}

// reducer builds the reduce callback. The callback runs once per input chunk,
// so the running total lives in the closure; each exchange emits the current
// cumulative total as a preview, and the finished exchange carries the final
// one. It folds pre-phase partial totals when present, otherwise it sums the
// requested fieldnames from the raw records.
func reducer() engine.StreamFunc {
	total := 0.0
	return func(inv *engine.Invocation, in engine.Records) engine.Records {
		return func(yield func(*engine.Record) bool) {
			field := totalField(inv)
			for rec := range in {
				if rec.Has(field) {
					total += numeric(rec.Get(field))
					continue
				}
				for _, name := range inv.Fieldnames {
					total += numeric(rec.Get(name))
				}
			}
			yield(engine.NewRecord().Set(field, total))
		}
	}
}

// numeric reads a field value as a float; non-numeric values count zero.
// Multi-values sum their items.
func numeric(v engine.Value) float64 {
	switch t := v.(type) {
	case string:
		n, _ := strconv.ParseFloat(t, 64)
		return n
	case float64:
		return t
	case int:
		return float64(t)
	case []string:
		total := 0.0
		for _, item := range t {
			n, _ := strconv.ParseFloat(item, 64)
			total += n
		}
		return total
	}
	return 0
}
