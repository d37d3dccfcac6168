package engine

// Inspector accumulates the out-of-band messages and metrics reported to the
// host alongside records. Its contents ride in chunk metadata and are cleared
// on every flush.
type Inspector struct {
	messages [][2]string
	metrics  map[string]any
}

// Message severities understood by the host.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Message queues one (severity, text) pair for the next flush.
func (i *Inspector) Message(level, text string) {
	i.messages = append(i.messages, [2]string{level, text})
}

// Metric queues a named measurement for the next flush. A later value for
// the same name replaces the earlier one within a flush window.
func (i *Inspector) Metric(name string, value any) {
	if i.metrics == nil {
		i.metrics = make(map[string]any)
	}
	i.metrics[name] = value
}

// Empty reports whether nothing is queued.
func (i *Inspector) Empty() bool {
	return len(i.messages) == 0 && len(i.metrics) == 0
}

// metadata renders the queued content as a chunk-metadata fragment: a
// "messages" list of [level, text] pairs plus one "metric.<name>" entry per
// metric. Nil when nothing is queued.
func (i *Inspector) metadata() map[string]any {
	if i.Empty() {
		return nil
	}
	out := make(map[string]any, 1+len(i.metrics))
	if len(i.messages) > 0 {
		msgs := make([][]string, len(i.messages))
		for n, m := range i.messages {
			msgs[n] = []string{m[0], m[1]}
		}
		out["messages"] = msgs
	}
	for name, value := range i.metrics {
		out["metric."+name] = value
	}
	return out
}

// reset discards queued content after a flush.
func (i *Inspector) reset() {
	i.messages = nil
	i.metrics = nil
}
