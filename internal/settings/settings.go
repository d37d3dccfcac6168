// Package settings is the protocol-version-aware catalogue of configuration
// settings a plugin type reports to the host during negotiation. Settings
// are declared once against a fixed specification matrix, frozen on the
// plugin type, and rendered per invocation for the negotiated protocol
// version.
package settings

import (
	"fmt"
	"sort"
)

// Kind identifies the processing contract of a plugin type. The engine
// dispatches through the kind rather than inspecting the plugin itself.
type Kind int

const (
	Generating Kind = iota
	Streaming
	Eventing
	Reporting
)

func (k Kind) String() string {
	switch k {
	case Generating:
		return "generating"
	case Streaming:
		return "streaming"
	case Eventing:
		return "eventing"
	case Reporting:
		return "reporting"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// DeclarationError reports a bad plugin-type declaration: an unknown or
// inapplicable setting name, an override of a fixed setting, a value failing
// its specification, or a missing kind callback. These are one-time
// programming errors surfaced at declaration, never at runtime.
type DeclarationError struct {
	Setting string
	Reason  string
}

func (e *DeclarationError) Error() string {
	if e.Setting == "" {
		return fmt.Sprintf("configuration declaration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration declaration error: setting %q: %s", e.Setting, e.Reason)
}

// Item is one rendered (name, value) pair.
type Item struct {
	Name  string
	Value any
}

// Frozen is a plugin type's merged settings after declaration. Fixed entries
// are immutable; the remainder may be adjusted by the engine before render
// (e.g. the computed streaming preop).
type Frozen struct {
	kind   Kind
	values map[string]any
	fixed  map[string]bool
}

// Declare validates overrides for the given kind against the specification
// matrix and freezes the merged settings.
func Declare(kind Kind, overrides map[string]any) (*Frozen, error) {
	table, ok := kindTables[kind]
	if !ok {
		return nil, &DeclarationError{Reason: fmt.Sprintf("unknown plugin kind %d", int(kind))}
	}

	values := make(map[string]any, len(table.defaults))
	for name, value := range table.defaults {
		values[name] = value
	}

	for name, value := range overrides {
		if _, known := matrix[name]; !known {
			return nil, &DeclarationError{Setting: name, Reason: "unknown configuration setting"}
		}
		if _, applicable := table.defaults[name]; !applicable {
			return nil, &DeclarationError{
				Setting: name,
				Reason:  fmt.Sprintf("not applicable to %s plugins", kind),
			}
		}
		if table.fixed[name] {
			return nil, &DeclarationError{Setting: name, Reason: "value is fixed"}
		}
		if err := checkValue(name, value); err != nil {
			return nil, err
		}
		values[name] = value
	}

	return &Frozen{kind: kind, values: values, fixed: table.fixed}, nil
}

// Set adjusts a mutable setting after freeze. The engine uses this for
// values only known per invocation, like the computed streaming preop.
func (f *Frozen) Set(name string, value any) error {
	if _, applicable := f.values[name]; !applicable {
		return &DeclarationError{Setting: name, Reason: "unknown configuration setting"}
	}
	if f.fixed[name] {
		return &DeclarationError{Setting: name, Reason: "value is fixed"}
	}
	if err := checkValue(name, value); err != nil {
		return err
	}
	f.values[name] = value
	return nil
}

// Get returns the current value of a setting, or nil when absent.
func (f *Frozen) Get(name string) any { return f.values[name] }

// Kind returns the plugin kind the settings were declared for.
func (f *Frozen) Kind() Kind { return f.kind }

// Render produces the ordered (name, value) pairs reported to the host for
// the given protocol version. Settings outside the version are omitted, as
// are absent values. Kind-specific presentation runs here: a streaming
// plugin not marked distributed, and a generating plugin marked distributed
// while typed streaming, both present their pipeline stage as "stateful"
// under protocol 2; the distributed flag itself is never rendered there.
func (f *Frozen) Render(protocolVersion int) []Item {
	names := make([]string, 0, len(f.values))
	for name := range f.values {
		names = append(names, name)
	}
	sort.Strings(names)

	distributed, _ := f.values["distributed"].(bool)

	items := make([]Item, 0, len(names))
	for _, name := range names {
		sp := matrix[name]
		if sp.protocols&protoBit(protocolVersion) == 0 {
			continue
		}
		value := f.values[name]
		if value == nil {
			continue
		}

		if protocolVersion == 2 {
			switch {
			case name == "distributed" && (f.kind == Streaming || f.kind == Generating):
				continue
			case name == "type" && f.kind == Streaming && !distributed:
				value = "stateful"
			case name == "type" && f.kind == Generating && distributed && value == "streaming":
				value = "stateful"
			}
		}

		items = append(items, Item{Name: name, Value: value})
	}
	return items
}

// Metadata renders the settings as a chunk-metadata map.
func (f *Frozen) Metadata(protocolVersion int) map[string]any {
	meta := make(map[string]any)
	for _, item := range f.Render(protocolVersion) {
		meta[item.Name] = item.Value
	}
	return meta
}

func checkValue(name string, value any) error {
	sp := matrix[name]
	if value == nil {
		return nil
	}

	normalized, err := normalize(sp.kind, value)
	if err != nil {
		return &DeclarationError{Setting: name, Reason: err.Error()}
	}
	if sp.constraint != nil {
		if err := sp.constraint(normalized); err != nil {
			return &DeclarationError{Setting: name, Reason: err.Error()}
		}
	}
	return nil
}

func normalize(kind valueKind, value any) (any, error) {
	switch kind {
	case boolValue:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("expected a boolean, got %T", value)
	case intValue:
		switch n := value.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		}
		return nil, fmt.Errorf("expected an integer, got %T", value)
	case stringValue:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected a string, got %T", value)
	case listValue:
		if items, ok := value.([]string); ok {
			return items, nil
		}
		return nil, fmt.Errorf("expected a list of strings, got %T", value)
	}
	return nil, fmt.Errorf("unhandled value kind %d", int(kind))
}
