package ippattr

import "github.com/OpenPrinting/goipp"

// Descriptor declares what a single request attribute is allowed to look
// like, for the validation RFC 8011 §3.1.7 calls "unsupported attributes
// and values": wrong name, wrong tag, or a value outside the printer's
// supported set all move the attribute from the operation group into the
// response's unsupported-attributes group rather than failing the whole
// request.
type Descriptor struct {
	Name  string
	Tag   goipp.Tag // expected value tag, e.g. goipp.TagKeyword
	Multi bool       // whether more than one value is allowed

	// Supported, if non-nil, enumerates the only values that are
	// acceptable (e.g. supported document-format keywords); nil means
	// any value of the right type is accepted.
	Supported []string
}

func (d Descriptor) valueSupported(v goipp.Value) bool {
	if d.Supported == nil {
		return true
	}
	str, ok := v.(goipp.String)
	if !ok {
		return false
	}
	for _, want := range d.Supported {
		if want == string(str) {
			return true
		}
	}
	return false
}

// ValidateGroup checks group against descs and returns the attributes that
// failed (to be copied into the response's Unsupported group) alongside an
// error that is non-nil only when at least one attribute was unsupported,
// so callers can still decide whether to reject the request outright
// (client-error-attributes-or-values-not-supported) or to degrade
// gracefully (successful-ok-ignored-or-substituted-attributes), matching
// the two dispositions RFC 8011 allows.
func ValidateGroup(descs []Descriptor, group goipp.Attributes) (unsupported goipp.Attributes, err error) {
	byName := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}

	for _, attr := range group {
		d, known := byName[attr.Name]
		if !known {
			unsupported = append(unsupported, attr)
			continue
		}

		if !d.Multi && len(attr.Values) > 1 {
			unsupported = append(unsupported, attr)
			continue
		}

		bad := false
		for _, v := range attr.Values {
			if v.T != d.Tag {
				bad = true
				break
			}
			if !d.valueSupported(v.V) {
				bad = true
				break
			}
		}
		if bad {
			unsupported = append(unsupported, attr)
		}
	}

	if len(unsupported) > 0 {
		err = ErrUnsupportedValue
	}
	return unsupported, err
}
