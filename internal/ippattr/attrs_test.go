package ippattr

import (
	"testing"

	"github.com/OpenPrinting/goipp"
)

func TestFindStringInteger(t *testing.T) {
	var group goipp.Attributes
	add := Adder(&group)
	add("printer-name", goipp.TagName, goipp.String("office-1"))
	add("copies", goipp.TagInteger, goipp.Integer(3))
	add("document-format", goipp.TagMimeType, goipp.String("application/pdf"), goipp.String("image/urf"))

	name, err := String(group, "printer-name")
	if err != nil || name != "office-1" {
		t.Fatalf("String: got %q, %v", name, err)
	}

	copies, err := Integer(group, "copies")
	if err != nil || copies != 3 {
		t.Fatalf("Integer: got %d, %v", copies, err)
	}

	formats := Strings(group, "document-format")
	if len(formats) != 2 || formats[0] != "application/pdf" || formats[1] != "image/urf" {
		t.Fatalf("Strings: got %v", formats)
	}

	if _, err := String(group, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := Integer(group, "printer-name"); err != ErrWrongType {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestReplace(t *testing.T) {
	var group goipp.Attributes
	add := Adder(&group)
	add("printer-state", goipp.TagEnum, goipp.Integer(3))

	group = Replace(group, goipp.MakeAttribute("printer-state", goipp.TagEnum, goipp.Integer(4)))

	if len(group) != 1 {
		t.Fatalf("expected one attribute after replace, got %d", len(group))
	}
	v, _ := Integer(group, "printer-state")
	if v != 4 {
		t.Fatalf("expected replaced value 4, got %d", v)
	}
}

func TestURISplit(t *testing.T) {
	path, ok := URISplit("ipp://localhost:60000/ipp/print/office-1/42")
	if !ok || path != "/ipp/print/office-1/42" {
		t.Fatalf("got %q, %v", path, ok)
	}

	if _, ok := URISplit("not-a-uri"); ok {
		t.Fatal("expected failure for malformed URI")
	}
}
