package protocol

import "encoding/json"

// Actions carried in chunk metadata during the two invocation phases.
const (
	ActionGetinfo = "getinfo"
	ActionExecute = "execute"
)

// Chunk is one transport frame: decoded metadata plus an opaque body.
// Metadata is nil when the frame carried no metadata bytes.
type Chunk struct {
	Metadata map[string]any
	Body     []byte
}

// SearchInfo is the negotiation payload found under metadata["searchinfo"]
// in the getinfo chunk.
type SearchInfo struct {
	Args          []string
	RawArgs       []string
	DispatchDir   string
	Sid           string
	App           string
	Owner         string
	MaxResultRows int
}

// Action returns the metadata action field, or "" when absent.
func (c *Chunk) Action() string {
	return asString(c.Metadata["action"])
}

// Finished reports the metadata finished flag. Absent means false.
func (c *Chunk) Finished() bool {
	b, _ := c.Metadata["finished"].(bool)
	return b
}

// SearchInfo extracts the negotiation payload from the chunk metadata.
// Missing or malformed fields decay to zero values; the engine validates
// what it actually needs.
func (c *Chunk) SearchInfo() SearchInfo {
	info := SearchInfo{}
	raw, ok := c.Metadata["searchinfo"].(map[string]any)
	if !ok {
		return info
	}
	info.Args = asStringSlice(raw["args"])
	info.RawArgs = asStringSlice(raw["raw_args"])
	info.DispatchDir = asString(raw["dispatch_dir"])
	info.Sid = asString(raw["sid"])
	info.App = asString(raw["app"])
	info.Owner = asString(raw["owner"])
	info.MaxResultRows = asInt(raw["maxresultrows"])
	return info
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
	}
	return 0
}

func asStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
