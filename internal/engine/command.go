// Package engine runs a declared search plugin against the host's chunked
// exchange: it negotiates the getinfo phase, parses options, dispatches
// execute chunks through the plugin's kind callback, and writes results back
// through the buffered record writer. All host conversation happens here;
// plugins only declare themselves and transform records.
package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/searchplug/internal/options"
	"github.com/mattjoyce/searchplug/internal/protocol"
	"github.com/mattjoyce/searchplug/internal/runtime"
	"github.com/mattjoyce/searchplug/internal/settings"
)

// Kind re-exports the plugin kinds so plugin packages import only engine.
type Kind = settings.Kind

const (
	Generating = settings.Generating
	Streaming  = settings.Streaming
	Eventing   = settings.Eventing
	Reporting  = settings.Reporting
)

// GenerateFunc produces records from nothing; the kind callback of a
// generating plugin.
type GenerateFunc func(inv *Invocation) Records

// StreamFunc transforms an input record sequence into an output sequence;
// the kind callback of streaming, eventing and reporting plugins.
type StreamFunc func(inv *Invocation, in Records) Records

// Definition declares one plugin type: its name, kind, option templates,
// configuration setting overrides, and the callbacks its kind requires.
type Definition struct {
	Name     string
	Kind     Kind
	Options  []*options.Option
	Settings map[string]any

	// Prepare runs after option parsing and before the negotiation reply.
	// Returning an error rejects the invocation with that message.
	Prepare func(inv *Invocation) error

	// Generate is required for generating plugins.
	Generate GenerateFunc
	// Stream is required for streaming and eventing plugins.
	Stream StreamFunc
	// Map is the optional distributed pre-phase of a reporting plugin.
	Map StreamFunc
	// Reduce is required for reporting plugins.
	Reduce StreamFunc
}

// Engine binds a validated definition to a process runtime.
type Engine struct {
	def    Definition
	rt     *runtime.Context
	frozen *settings.Frozen
	logger *slog.Logger
}

// New validates the definition and freezes its configuration settings.
// Declaration mistakes (bad option names, unknown or fixed settings, a
// missing kind callback) fail here, before any host conversation.
func New(def Definition, rt *runtime.Context) (*Engine, error) {
	if def.Name == "" {
		return nil, &settings.DeclarationError{Reason: "plugin name is required"}
	}
	if err := checkCallbacks(def); err != nil {
		return nil, err
	}
	if _, err := newOptionSet(def); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", def.Name, err)
	}

	frozen, err := settings.Declare(def.Kind, def.Settings)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", def.Name, err)
	}

	return &Engine{
		def:    def,
		rt:     rt,
		frozen: frozen,
		logger: rt.Logger.With(slog.String("plugin", def.Name)),
	}, nil
}

func checkCallbacks(def Definition) error {
	missing := func(name string) error {
		return &settings.DeclarationError{
			Reason: fmt.Sprintf("%s plugin %s has no %s callback", def.Kind, def.Name, name),
		}
	}
	switch def.Kind {
	case Generating:
		if def.Generate == nil {
			return missing("generate")
		}
	case Streaming, Eventing:
		if def.Stream == nil {
			return missing("stream")
		}
	case Reporting:
		if def.Reduce == nil {
			return missing("reduce")
		}
	}
	return nil
}

// newOptionSet instantiates per-invocation option state: the built-in
// options followed by the plugin's own.
func newOptionSet(def Definition) (*options.Set, error) {
	opts := append([]*options.Option{
		{Name: "show_configuration", Validate: options.Boolean{}, Default: false},
	}, def.Options...)
	return options.NewSet(opts...)
}

// Invocation is the per-search state handed to plugin callbacks: the parsed
// options and field names, the negotiated search info, the settings in
// effect, and the channels back to the host.
type Invocation struct {
	Name       string
	Fieldnames []string
	Options    *options.Set
	Settings   *settings.Frozen
	SearchInfo protocol.SearchInfo
	Logger     *slog.Logger

	writer *RecordWriter
}

// Option returns the value of a declared option, its default when unset.
// Asking for an undeclared option returns nil.
func (inv *Invocation) Option(name string) any {
	item, ok := inv.Options.Get(name)
	if !ok {
		return nil
	}
	return item.Value()
}

// Messagef queues an inspector message for the host at the given severity.
func (inv *Invocation) Messagef(level, format string, args ...any) {
	inv.writer.Inspector().Message(level, fmt.Sprintf(format, args...))
}

// Errorf queues an error-severity inspector message.
func (inv *Invocation) Errorf(format string, args ...any) {
	inv.Messagef(LevelError, format, args...)
}

// Warnf queues a warning-severity inspector message.
func (inv *Invocation) Warnf(format string, args ...any) {
	inv.Messagef(LevelWarn, format, args...)
}

// Metric queues a named inspector metric.
func (inv *Invocation) Metric(name string, value any) {
	inv.writer.Inspector().Metric(name, value)
}

// preop renders the command line the host should run for the distributed
// pre-phase of a reporting search.
func preop(name string, args []string) string {
	parts := append([]string{name, mapPhaseMarker}, args...)
	return strings.Join(parts, " ")
}
