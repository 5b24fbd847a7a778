package ippattr

import (
	"testing"

	"github.com/OpenPrinting/goipp"
)

func TestValidateGroupUnknownAttribute(t *testing.T) {
	var group goipp.Attributes
	Adder(&group)("frobnicate-level", goipp.TagInteger, goipp.Integer(1))

	descs := []Descriptor{{Name: "copies", Tag: goipp.TagInteger}}

	unsupported, err := ValidateGroup(descs, group)
	if err == nil {
		t.Fatal("expected error for unknown attribute")
	}
	if len(unsupported) != 1 || unsupported[0].Name != "frobnicate-level" {
		t.Fatalf("got %v", unsupported)
	}
}

func TestValidateGroupWrongTag(t *testing.T) {
	var group goipp.Attributes
	Adder(&group)("copies", goipp.TagKeyword, goipp.String("three"))

	descs := []Descriptor{{Name: "copies", Tag: goipp.TagInteger}}

	unsupported, err := ValidateGroup(descs, group)
	if err == nil || len(unsupported) != 1 {
		t.Fatalf("expected wrong-tag attribute flagged, got %v, %v", unsupported, err)
	}
}

func TestValidateGroupUnsupportedValue(t *testing.T) {
	var group goipp.Attributes
	Adder(&group)("document-format", goipp.TagMimeType, goipp.String("application/octet-stream"))

	descs := []Descriptor{{
		Name:      "document-format",
		Tag:       goipp.TagMimeType,
		Supported: []string{"application/pdf", "image/urf"},
	}}

	_, err := ValidateGroup(descs, group)
	if err == nil {
		t.Fatal("expected unsupported value to be flagged")
	}
}

func TestValidateGroupAccepts(t *testing.T) {
	var group goipp.Attributes
	add := Adder(&group)
	add("copies", goipp.TagInteger, goipp.Integer(2))
	add("document-format", goipp.TagMimeType, goipp.String("application/pdf"))

	descs := []Descriptor{
		{Name: "copies", Tag: goipp.TagInteger},
		{Name: "document-format", Tag: goipp.TagMimeType, Supported: []string{"application/pdf"}},
	}

	unsupported, err := ValidateGroup(descs, group)
	if err != nil || len(unsupported) != 0 {
		t.Fatalf("expected no unsupported attributes, got %v, %v", unsupported, err)
	}
}

func TestValidateGroupMultiNotAllowed(t *testing.T) {
	var group goipp.Attributes
	attr := goipp.MakeAttribute("copies", goipp.TagInteger, goipp.Integer(1))
	attr.Values.Add(goipp.TagInteger, goipp.Integer(2))
	group.Add(attr)

	descs := []Descriptor{{Name: "copies", Tag: goipp.TagInteger, Multi: false}}

	unsupported, err := ValidateGroup(descs, group)
	if err == nil || len(unsupported) != 1 {
		t.Fatalf("expected multi-value rejected, got %v, %v", unsupported, err)
	}
}
