package lifecycle

import (
	"strconv"
	"strings"

	"github.com/OpenPrinting/goipp"
)

// DeviceStateReason mirrors PrinterStateReason for proxy-reported device
// state; kept as a distinct type since a Device's reasons come from the
// proxy, not the daemon's own transitions.
type DeviceStateReason = PrinterStateReason

// Device holds a proxy's merged attribute set and reported state, per
// spec.md §3/§4.3.4. The Object Store keeps one per registered device,
// guarded by its own reader/writer lock.
type Device struct {
	Attrs   goipp.Attributes
	State   PrinterState
	Reasons []DeviceStateReason
}

// NewDevice creates an empty device record.
func NewDevice() *Device {
	return &Device{State: PrinterIdle}
}

// ApplyUpdate merges incoming attributes into the device's attribute set.
// Each attribute name of the form "name" replaces the whole attribute.
// "name.N" replaces (or, if out of range, appends) the single value at
// index N. "name.N-M" replaces the value range [N,M] (inclusive). A value
// tagged goipp.TagDeleteAttr deletes rather than replaces, per
// spec.md §4.3.4; a base-name mismatch between the splice and any existing
// attribute of the same tag is reported as an unsupported attribute rather
// than applied.
func (d *Device) ApplyUpdate(update goipp.Attributes) (unsupported goipp.Attributes) {
	for _, attr := range update {
		base, lo, hi, sparse := parseSparseName(attr.Name)

		if !sparse {
			d.Attrs = replaceAttr(d.Attrs, attr)
			continue
		}

		if err := d.spliceAttr(base, lo, hi, attr); err != nil {
			unsupported = append(unsupported, attr)
		}
	}
	return unsupported
}

// parseSparseName splits "name.N" or "name.N-M" into its base name and
// inclusive [lo,hi] index range. sparse is false for a plain name.
func parseSparseName(name string) (base string, lo, hi int, sparse bool) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return name, 0, 0, false
	}

	suffix := name[i+1:]
	base = name[:i]

	if dash := strings.IndexByte(suffix, '-'); dash >= 0 {
		loN, err1 := strconv.Atoi(suffix[:dash])
		hiN, err2 := strconv.Atoi(suffix[dash+1:])
		if err1 != nil || err2 != nil || loN > hiN {
			return name, 0, 0, false
		}
		return base, loN, hiN, true
	}

	n, err := strconv.Atoi(suffix)
	if err != nil {
		return name, 0, 0, false
	}
	return base, n, n, true
}

func (d *Device) spliceAttr(base string, lo, hi int, update goipp.Attribute) error {
	idx := -1
	for i, attr := range d.Attrs {
		if attr.Name == base {
			idx = i
			break
		}
	}

	deleting := len(update.Values) > 0 && update.Values[0].T == goipp.TagDeleteAttr

	if idx < 0 {
		if deleting {
			return nil
		}
		if lo != 0 {
			return ErrAttributeIndexRange
		}
		d.Attrs = append(d.Attrs, goipp.Attribute{Name: base, Values: update.Values})
		return nil
	}

	existing := d.Attrs[idx].Values
	if hi >= len(existing)+1 || lo < 0 || lo > len(existing) {
		return ErrAttributeIndexRange
	}

	var spliced goipp.Values
	spliced = append(spliced, existing[:lo]...)
	if !deleting {
		spliced = append(spliced, update.Values...)
	}
	if hi < len(existing) {
		spliced = append(spliced, existing[hi+1:]...)
	}

	d.Attrs[idx].Values = spliced
	return nil
}

func replaceAttr(attrs goipp.Attributes, attr goipp.Attribute) goipp.Attributes {
	for i, a := range attrs {
		if a.Name == attr.Name {
			attrs[i] = attr
			return attrs
		}
	}
	return append(attrs, attr)
}
