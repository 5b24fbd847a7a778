package ippattr

import "github.com/OpenPrinting/goipp"

// Standard operation attributes every response carries, mirroring the
// teacher's ippGetPrinterAttributes request construction.
const (
	AttrCharset         = "attributes-charset"
	AttrNaturalLanguage = "attributes-natural-language"
)

// NewResponse builds a response message with the mandatory
// attributes-charset and attributes-natural-language operation attributes
// already populated, the way every operation handler needs to start.
func NewResponse(status goipp.Status, requestID uint32) *goipp.Message {
	msg := goipp.NewResponse(goipp.DefaultVersion, status, requestID)
	add := Adder(&msg.Operation)
	add(AttrCharset, goipp.TagCharset, goipp.String("utf-8"))
	add(AttrNaturalLanguage, goipp.TagLanguage, goipp.String("en-us"))
	return msg
}

// ValidateEnvelope checks the request-independent parts of an incoming
// message: that attribute groups appear in non-decreasing tag order (RFC
// 8011 §4.1.8), that the first three operation attributes are
// attributes-charset, attributes-natural-language and the target URI (in
// that order), and that the charset is one this daemon accepts.
//
// It does not look at operation-specific attributes; internal/dispatch
// calls it once per request before routing to a handler.
func ValidateEnvelope(msg *goipp.Message, uriAttrName string) error {
	if err := checkGroupOrder(msg); err != nil {
		return err
	}

	if len(msg.Operation) < 3 {
		return ErrBadRequest
	}
	if msg.Operation[0].Name != AttrCharset ||
		msg.Operation[1].Name != AttrNaturalLanguage ||
		msg.Operation[2].Name != uriAttrName {
		return ErrBadRequest
	}

	charset, err := String(msg.Operation, AttrCharset)
	if err != nil {
		return ErrBadRequest
	}
	if charset != "utf-8" && charset != "us-ascii" {
		return ErrCharsetUnsupported
	}

	return nil
}

// checkGroupOrder enforces that groups appear in the wire order RFC 8011
// mandates: operation, job, printer/subscription/... Decoded messages from
// goipp always populate Groups when decoded from the wire (see goipp's
// Message.Groups doc comment), so that is what this walks.
func checkGroupOrder(msg *goipp.Message) error {
	if msg.Groups == nil {
		return nil
	}
	last := goipp.TagZero
	for _, g := range msg.Groups {
		if g.Tag < last {
			return ErrGroupOutOfOrder
		}
		last = g.Tag
	}
	return nil
}
