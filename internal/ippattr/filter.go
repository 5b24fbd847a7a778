package ippattr

import "github.com/OpenPrinting/goipp"

// Filter selects which of a full attribute set a Get-*-Attributes response
// should return, per RFC 8011 §4.2.5.3: the client names "all", "none", a
// specific list, or the two documented groups "job-template"/
// "job-description" (and their printer/system counterparts). A nil or
// empty requested list means "the default subset", which callers encode by
// passing defaults as the fallback list.
type Filter struct {
	// Requested is the raw value of the client's requested-attributes
	// operation attribute.
	Requested []string

	// Groups maps an RFC-defined group keyword (e.g. "job-template") to
	// the concrete attribute names it expands to, for this object type.
	Groups map[string][]string

	// Defaults lists the attributes returned when Requested is empty.
	Defaults []string

	// Redact lists attribute names to drop unless the caller is the
	// object's owner or an operator (job-originating-user-name,
	// job-password, ...), per access control.
	Redact []string
	// AllowRedacted disables Redact's effect for a privileged caller.
	AllowRedacted bool
}

// Apply returns the subset of full this Filter selects, preserving full's
// relative attribute order.
func (f Filter) Apply(full goipp.Attributes) goipp.Attributes {
	wanted := f.wantedNames(full)

	redact := map[string]bool{}
	if !f.AllowRedacted {
		for _, n := range f.Redact {
			redact[n] = true
		}
	}

	out := make(goipp.Attributes, 0, len(full))
	for _, attr := range full {
		if redact[attr.Name] {
			continue
		}
		if wanted == nil || wanted[attr.Name] {
			out = append(out, attr)
		}
	}
	return out
}

// wantedNames returns nil to mean "everything", or a set of attribute
// names to keep.
func (f Filter) wantedNames(full goipp.Attributes) map[string]bool {
	req := f.Requested
	if len(req) == 0 {
		req = f.Defaults
	}

	set := map[string]bool{}
	for _, name := range req {
		switch name {
		case "all":
			return nil
		case "none":
			return map[string]bool{}
		default:
			if group, ok := f.Groups[name]; ok {
				for _, g := range group {
					set[g] = true
				}
				continue
			}
			set[name] = true
		}
	}
	return set
}
