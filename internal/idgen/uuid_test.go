package idgen

import "testing"

var testDataUUID = []struct{ in, out string }{
	{"01234567-89ab-cdef-0123-456789abcdef", "01234567-89ab-cdef-0123-456789abcdef"},
	{"01234567-89ab-cdef-0123-456789abcde", ""},
	{"01234567-89ab-cdef-0123-456789abcdef0", ""},
	{"urn:01234567-89ab-cdef-0123-456789abcdef", "01234567-89ab-cdef-0123-456789abcdef"},
	{"urn:uuid:01234567-89ab-cdef-0123-456789abcdef", "01234567-89ab-cdef-0123-456789abcdef"},
	{"0123456789abcdef0123456789abcdef", "01234567-89ab-cdef-0123-456789abcdef"},
	{"{0123456789abcdef0123456789abcdef}", "01234567-89ab-cdef-0123-456789abcdef"},
}

func TestNormalize(t *testing.T) {
	for _, data := range testDataUUID {
		got := Normalize(data.in)
		if got != data.out {
			t.Errorf("Normalize(%q): expected %q, got %q", data.in, data.out, got)
		}
	}
}

func TestDeviceUUIDStable(t *testing.T) {
	a := DeviceUUID("usb://Example/Printer?serial=123", "host")
	b := DeviceUUID("usb://Example/Printer?serial=123", "host")
	if a != b {
		t.Errorf("DeviceUUID not stable: %q != %q", a, b)
	}

	c := DeviceUUID("usb://Example/Printer?serial=999", "host")
	if a == c {
		t.Errorf("DeviceUUID collided for distinct device URIs")
	}
}

func TestDeviceUUIDNull(t *testing.T) {
	a := DeviceUUID("", "myhost")
	b := DeviceUUID("file://myhost/dev/null", "myhost")
	if a != b {
		t.Errorf("null device URI not equivalent to file://host/dev/null: %q != %q", a, b)
	}
}
