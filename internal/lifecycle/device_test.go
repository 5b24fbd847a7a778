package lifecycle

import (
	"testing"

	"github.com/OpenPrinting/goipp"
)

func TestDeviceApplyUpdateWholeAttribute(t *testing.T) {
	d := NewDevice()
	unsupported := d.ApplyUpdate(goipp.Attributes{
		goipp.MakeAttribute("marker-levels", goipp.TagInteger, goipp.Integer(80)),
	})
	if len(unsupported) != 0 {
		t.Fatalf("unexpected unsupported: %v", unsupported)
	}
	if len(d.Attrs) != 1 || d.Attrs[0].Name != "marker-levels" {
		t.Fatalf("got %v", d.Attrs)
	}
}

func TestDeviceApplyUpdateSparseIndex(t *testing.T) {
	d := NewDevice()
	attr := goipp.MakeAttribute("marker-levels", goipp.TagInteger, goipp.Integer(10))
	attr.Values.Add(goipp.TagInteger, goipp.Integer(20))
	attr.Values.Add(goipp.TagInteger, goipp.Integer(30))
	d.Attrs = goipp.Attributes{attr}

	unsupported := d.ApplyUpdate(goipp.Attributes{
		goipp.MakeAttribute("marker-levels.1", goipp.TagInteger, goipp.Integer(99)),
	})
	if len(unsupported) != 0 {
		t.Fatalf("unexpected unsupported: %v", unsupported)
	}

	vals := d.Attrs[0].Values
	if len(vals) != 3 || int(vals[1].V.(goipp.Integer)) != 99 {
		t.Fatalf("got %v", vals)
	}
}

func TestDeviceApplyUpdateSparseRangeDelete(t *testing.T) {
	d := NewDevice()
	attr := goipp.MakeAttribute("marker-levels", goipp.TagInteger, goipp.Integer(10))
	attr.Values.Add(goipp.TagInteger, goipp.Integer(20))
	attr.Values.Add(goipp.TagInteger, goipp.Integer(30))
	d.Attrs = goipp.Attributes{attr}

	del := goipp.Attribute{Name: "marker-levels.0-1"}
	del.Values.Add(goipp.TagDeleteAttr, goipp.Void{})

	unsupported := d.ApplyUpdate(goipp.Attributes{del})
	if len(unsupported) != 0 {
		t.Fatalf("unexpected unsupported: %v", unsupported)
	}

	vals := d.Attrs[0].Values
	if len(vals) != 1 || int(vals[0].V.(goipp.Integer)) != 30 {
		t.Fatalf("got %v", vals)
	}
}

func TestDeviceApplyUpdateOutOfRangeRejected(t *testing.T) {
	d := NewDevice()
	attr := goipp.MakeAttribute("marker-levels", goipp.TagInteger, goipp.Integer(10))
	d.Attrs = goipp.Attributes{attr}

	unsupported := d.ApplyUpdate(goipp.Attributes{
		goipp.MakeAttribute("marker-levels.5", goipp.TagInteger, goipp.Integer(99)),
	})
	if len(unsupported) != 1 {
		t.Fatalf("expected out-of-range splice rejected, got %v", unsupported)
	}
}
