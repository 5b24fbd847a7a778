package ippattr

import "github.com/OpenPrinting/goipp"

// Adder returns a closure that appends attributes to group, mirroring the
// teacher's construction style (msg.Operation.Add(goipp.MakeAttribute(...)))
// but collapsing the repetition into one call per attribute, the way
// rusq-thermoprint's ippsrv.adder does for multi-valued attributes.
func Adder(group *goipp.Attributes) func(name string, tag goipp.Tag, values ...goipp.Value) {
	return func(name string, tag goipp.Tag, values ...goipp.Value) {
		if len(values) == 0 {
			return
		}
		attr := goipp.MakeAttribute(name, tag, values[0])
		for _, v := range values[1:] {
			attr.Values.Add(tag, v)
		}
		group.Add(attr)
	}
}

// Find returns the named attribute's values within group, or ok=false if
// no attribute by that name is present.
func Find(group goipp.Attributes, name string) (goipp.Values, bool) {
	for _, attr := range group {
		if attr.Name == name {
			return attr.Values, true
		}
	}
	return nil, false
}

// Delete removes every attribute named name from group, returning the
// possibly-shortened slice.
func Delete(group goipp.Attributes, name string) goipp.Attributes {
	out := group[:0]
	for _, attr := range group {
		if attr.Name != name {
			out = append(out, attr)
		}
	}
	return out
}

// Replace removes any existing attribute named attr.Name from group and
// appends attr, preserving the rest of the group's order.
func Replace(group goipp.Attributes, attr goipp.Attribute) goipp.Attributes {
	group = Delete(group, attr.Name)
	group.Add(attr)
	return group
}

// String extracts a single string-typed value of the named attribute.
func String(group goipp.Attributes, name string) (string, error) {
	vals, ok := Find(group, name)
	if !ok {
		return "", ErrNotFound
	}
	if len(vals) == 0 {
		return "", ErrNoValues
	}
	if len(vals) > 1 {
		return "", ErrMultipleValues
	}
	s, ok := vals[0].V.(goipp.String)
	if !ok {
		return "", ErrWrongType
	}
	return string(s), nil
}

// StringWithDefault is String, falling back to def when the attribute is
// absent rather than returning an error — the common case when reading an
// optional client-supplied attribute.
func StringWithDefault(group goipp.Attributes, name, def string) string {
	s, err := String(group, name)
	if err != nil {
		return def
	}
	return s
}

// Strings extracts every string-typed value of the named attribute, in
// wire order, for multi-valued keyword/enum-style attributes such as
// requested-attributes or job-state-reasons.
func Strings(group goipp.Attributes, name string) []string {
	vals, ok := Find(group, name)
	if !ok {
		return nil
	}
	strs := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.V.(goipp.String); ok {
			strs = append(strs, string(s))
		}
	}
	return strs
}

// Integers extracts every integer-typed value of the named attribute, in
// wire order, for multi-valued attributes such as notify-subscription-ids
// or notify-sequence-numbers.
func Integers(group goipp.Attributes, name string) []int {
	vals, ok := Find(group, name)
	if !ok {
		return nil
	}
	ints := make([]int, 0, len(vals))
	for _, v := range vals {
		if i, ok := v.V.(goipp.Integer); ok {
			ints = append(ints, int(i))
		}
	}
	return ints
}

// Integer extracts a single integer-typed value of the named attribute.
func Integer(group goipp.Attributes, name string) (int, error) {
	vals, ok := Find(group, name)
	if !ok {
		return 0, ErrNotFound
	}
	if len(vals) == 0 {
		return 0, ErrNoValues
	}
	if len(vals) > 1 {
		return 0, ErrMultipleValues
	}
	i, ok := vals[0].V.(goipp.Integer)
	if !ok {
		return 0, ErrWrongType
	}
	return int(i), nil
}

// IntegerWithDefault is Integer with a fallback for an absent attribute.
func IntegerWithDefault(group goipp.Attributes, name string, def int) int {
	i, err := Integer(group, name)
	if err != nil {
		return def
	}
	return i
}

// Boolean extracts a single boolean-typed value of the named attribute.
func Boolean(group goipp.Attributes, name string) (bool, error) {
	vals, ok := Find(group, name)
	if !ok {
		return false, ErrNotFound
	}
	if len(vals) != 1 {
		return false, ErrMultipleValues
	}
	b, ok := vals[0].V.(goipp.Boolean)
	if !ok {
		return false, ErrWrongType
	}
	return bool(b), nil
}

// URISplit extracts the trailing path segments of an IPP target URI, after
// the resource prefix, used to resolve a job-uri or printer-uri down to the
// object it names. It is intentionally simple: IPP URIs used by this
// daemon are always of the form scheme://host:port/<resource-path>.
func URISplit(uri string) (path string, ok bool) {
	for i := 0; i < len(uri)-2; i++ {
		if uri[i] == ':' && uri[i+1] == '/' && uri[i+2] == '/' {
			rest := uri[i+3:]
			for j := 0; j < len(rest); j++ {
				if rest[j] == '/' {
					return rest[j:], true
				}
			}
			return "", false
		}
	}
	return "", false
}
