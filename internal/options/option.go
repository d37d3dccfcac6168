// Package options declares and parses the name=value arguments a search
// plugin accepts. Option templates are fixed when the plugin type is
// declared; each invocation gets its own value set, reset at invocation
// start, populated during parsing, and read-only once execution begins.
package options

import (
	"fmt"
	"strings"
)

// Option is the immutable template for one declared option. It is created at
// plugin-type definition and shared by every invocation.
type Option struct {
	Name     string
	Validate Validator // nil accepts any string
	Require  bool
	Default  any
}

// Item is the per-invocation state of one option: its current value and
// whether the value came from an argument.
type Item struct {
	option *Option
	value  any
	isSet  bool
}

// Name returns the declared option name.
func (i *Item) Name() string { return i.option.Name }

// Required reports whether the option must be supplied.
func (i *Item) Required() bool { return i.option.Require }

// IsSet reports whether an argument supplied the value.
func (i *Item) IsSet() bool { return i.isSet }

// Value returns the current value: the parsed argument if set, the declared
// default otherwise.
func (i *Item) Value() any { return i.value }

// SetValue validates raw and installs the resulting value.
func (i *Item) SetValue(raw string) error {
	if i.option.Validate == nil {
		i.value = raw
		i.isSet = true
		return nil
	}
	value, err := i.option.Validate.Validate(raw)
	if err != nil {
		return err
	}
	i.value = value
	i.isSet = true
	return nil
}

// Reset restores the declared default and clears the is-set flag.
func (i *Item) Reset() {
	i.value = i.option.Default
	i.isSet = false
}

// Set holds the per-invocation option items in declaration order.
type Set struct {
	order []string
	items map[string]*Item
}

// NewSet instantiates invocation state for the given templates. Option names
// must be well formed and unique; a violation is a programming error in the
// plugin declaration and fails immediately.
func NewSet(opts ...*Option) (*Set, error) {
	s := &Set{items: make(map[string]*Item, len(opts))}
	for _, opt := range opts {
		if _, err := optionNamePattern(opt.Name); err != nil {
			return nil, err
		}
		if _, dup := s.items[opt.Name]; dup {
			return nil, fmt.Errorf("option %q declared twice", opt.Name)
		}
		s.order = append(s.order, opt.Name)
		s.items[opt.Name] = &Item{option: opt, value: opt.Default}
	}
	return s, nil
}

// Get returns the item for name, if declared.
func (s *Set) Get(name string) (*Item, bool) {
	item, ok := s.items[name]
	return item, ok
}

// Names returns the option names in declaration order.
func (s *Set) Names() []string { return s.order }

// Reset restores every item to its declared default.
func (s *Set) Reset() {
	for _, item := range s.items {
		item.Reset()
	}
}

// Missing returns the names of required options that no argument set, in
// declaration order. Nil when none are missing.
func (s *Set) Missing() []string {
	var missing []string
	for _, name := range s.order {
		item := s.items[name]
		if item.Required() && !item.IsSet() {
			missing = append(missing, name)
		}
	}
	return missing
}

// String renders the set options as space-separated name=value pairs.
func (s *Set) String() string {
	var parts []string
	for _, name := range s.order {
		item := s.items[name]
		if !item.IsSet() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%q", name, formatValue(item)))
	}
	return strings.Join(parts, " ")
}

func formatValue(item *Item) string {
	if item.option.Validate != nil {
		return item.option.Validate.Format(item.value)
	}
	return fmt.Sprint(item.value)
}
