// generatehello is a generating plugin: it produces count greeting events
// out of thin air. Run it as:
//
//	| generatehello count=5
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattjoyce/searchplug/internal/engine"
	"github.com/mattjoyce/searchplug/internal/options"
	"github.com/mattjoyce/searchplug/internal/runtime"
)

func main() {
	rt := runtime.New()

	def := engine.Definition{
		Name: "generatehello",
		Kind: engine.Generating,
		Options: []*options.Option{
			{Name: "count", Validate: options.Integer{Min: 1, Max: 1 << 30}, Require: true},
		},
		Generate: generate,
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

func generate(inv *engine.Invocation) engine.Records {
	count, _ := inv.Option("count").(int64)
	return func(yield func(*engine.Record) bool) {
		for i := int64(1); i <= count; i++ {
			rec := engine.NewRecord().
				Set("_time", time.Now().Unix()).
				Set("_serial", i).
				Set("_raw", fmt.Sprintf("Hello World! %d", i))
			if !yield(rec) {
				return
			}
		}
	}
}
