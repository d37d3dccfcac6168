package settings

import "fmt"

// protocol applicability bitmask
const (
	protoV1 = 1 << 1
	protoV2 = 1 << 2
)

func protoBit(version int) int { return 1 << uint(version) }

type valueKind int

const (
	boolValue valueKind = iota
	intValue
	stringValue
	listValue
)

// spec describes one entry of the specification matrix: the value kind a
// setting accepts, an optional constraint, and the protocol versions the
// setting is rendered under. The matrix replaces the original's reflective
// member scan with one fixed table.
type spec struct {
	kind       valueKind
	constraint func(value any) error
	protocols  int
}

var matrix = map[string]spec{
	"clear_required_fields": {kind: boolValue, protocols: protoV1},
	"distributed":           {kind: boolValue, protocols: protoV2},
	"generates_timeorder":   {kind: boolValue, protocols: protoV1},
	"generating":            {kind: boolValue, protocols: protoV1 | protoV2},
	"local":                 {kind: boolValue, protocols: protoV1},
	"maxinputs":             {kind: intValue, constraint: nonNegative, protocols: protoV2},
	"overrides_timeorder":   {kind: boolValue, protocols: protoV1},
	"required_fields":       {kind: listValue, protocols: protoV1 | protoV2},
	"requires_preop":        {kind: boolValue, protocols: protoV1},
	"retainsevents":         {kind: boolValue, protocols: protoV1},
	"run_in_preview":        {kind: boolValue, protocols: protoV2},
	"streaming":             {kind: boolValue, protocols: protoV1},
	"streaming_preop":       {kind: stringValue, protocols: protoV1 | protoV2},
	"type":                  {kind: stringValue, constraint: pipelineType, protocols: protoV2},
}

func nonNegative(value any) error {
	n, _ := value.(int)
	if n < 0 {
		return fmt.Errorf("expected a non-negative count, got %d", n)
	}
	return nil
}

func pipelineType(value any) error {
	s, _ := value.(string)
	switch s {
	case "events", "reporting", "streaming":
		return nil
	}
	return fmt.Errorf("expected events, reporting or streaming, got %q", s)
}

// kindTable carries a plugin kind's setting defaults and its fixed entries.
// Fixed entries are part of the kind's identity and may not be overridden at
// declaration.
type kindTable struct {
	defaults map[string]any
	fixed    map[string]bool
}

var kindTables = map[Kind]kindTable{
	Generating: {
		defaults: map[string]any{
			"generating":          true,
			"generates_timeorder": false,
			"retainsevents":       false,
			"streaming":           true,
			"distributed":         false,
			"type":                "streaming",
		},
		fixed: map[string]bool{"generating": true},
	},
	Streaming: {
		defaults: map[string]any{
			"clear_required_fields": false,
			"distributed":           true,
			"local":                 false,
			"overrides_timeorder":   false,
			"maxinputs":             nil,
			"required_fields":       nil,
			"streaming":             true,
			"type":                  "streaming",
		},
		fixed: map[string]bool{"streaming": true, "type": true},
	},
	Eventing: {
		defaults: map[string]any{
			"clear_required_fields": false,
			"maxinputs":             nil,
			"required_fields":       nil,
			"retainsevents":         true,
			"type":                  "events",
		},
		fixed: map[string]bool{"retainsevents": true, "type": true},
	},
	Reporting: {
		defaults: map[string]any{
			"requires_preop":  false,
			"retainsevents":   false,
			"run_in_preview":  true,
			"streaming":       false,
			"streaming_preop": nil,
			"required_fields": nil,
			"type":            "reporting",
		},
		fixed: map[string]bool{"retainsevents": true, "streaming": true, "type": true},
	},
}
