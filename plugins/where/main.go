// where is a streaming filter plugin: it keeps the records whose named field
// falls inside the given numeric bounds and drops the rest. Run it as:
//
//	... | where field=amount gt=10 lt=100
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
		Name: "where",
		Kind: engine.Streaming,
		Options: []*options.Option{
			{Name: "field", Validate: options.Fieldname{}, Require: true},
			{Name: "lt", Validate: options.Float{}},
			{Name: "gt", Validate: options.Float{}},
		},
		Stream: stream,
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

func stream(inv *engine.Invocation, in engine.Records) engine.Records {
	field, _ := inv.Option("field").(string)
	lt, hasLt := inv.Option("lt").(float64)
	gt, hasGt := inv.Option("gt").(float64)

	return func(yield func(*engine.Record) bool) {
		dropped := 0
		for rec := range in {
			raw, _ := rec.Get(field).(string)
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				dropped++
				continue
			}
			if hasLt && value >= lt {
				continue
			}
			if hasGt && value <= gt {
				continue
			}
			if !yield(rec) {
				return
			}
		}
		if dropped > 0 {
			inv.Warnf("where dropped %d record(s) with a non-numeric %s", dropped, field)
			inv.Metric("dropped_records", dropped)
		}
	}
}
