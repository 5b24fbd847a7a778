// Package dnssd is the DNS-SD Publisher: it advertises each Infrastructure
// Printer as an `_ipp._tcp` (or `_ipp3d._tcp` for a 3D printer) DNS-SD
// service plus an `_http._tcp` service, the way a real IPP Everywhere
// printer makes itself discoverable on the local network; no `_ipps._tcp`
// service is published. Grounded on the teacher's
// dnssd.go (DnsSdTxtItem/DnsDsTxtRecord/DnsSdSvcInfo/DnsSdPublisher),
// kept field-for-field as TxtRecord/ServiceInfo/Publisher, with the
// system-dependent half (dnssd_avahi.go) rebuilt in avahi.go on top of
// the pack's own `github.com/holoplot/go-avahi` + `github.com/godbus/
// dbus/v5` rather than the teacher's direct cgo binding against
// libavahi-client, since the teacher's own go.mod already names both as
// dependencies and a pure-Go D-Bus client needs no cgo toolchain.
package dnssd

// TxtItem is one key=value pair of a DNS-SD TXT record.
type TxtItem struct {
	Key, Value string
}

// TxtRecord is an ordered set of TXT record items.
type TxtRecord []TxtItem

// Add appends an item.
func (txt *TxtRecord) Add(key, value string) {
	*txt = append(*txt, TxtItem{key, value})
}

// AddIfNotEmpty appends an item only when value is non-empty, reporting
// whether it did.
func (txt *TxtRecord) AddIfNotEmpty(key, value string) bool {
	if value == "" {
		return false
	}
	txt.Add(key, value)
	return true
}

// export renders the record as the raw key=value byte strings
// avahi.EntryGroup.AddService expects, in reverse order — Avahi publishes
// a TXT record in the reverse of the order it was given, so this
// compensates, matching the teacher's DnsDsTxtRecord.export.
func (txt TxtRecord) export() [][]byte {
	out := make([][]byte, 0, len(txt))
	for i := len(txt) - 1; i >= 0; i-- {
		item := txt[i]
		out = append(out, []byte(item.Key+"="+item.Value))
	}
	return out
}

// ServiceInfo is one DNS-SD service to publish under a shared instance
// name: a service type (e.g. "_ipp._tcp"), the port it listens on, and
// its TXT record.
type ServiceInfo struct {
	Type string
	Port int
	Txt  TxtRecord
}

// Services is a set of ServiceInfo published together.
type Services []ServiceInfo

// Add appends a service.
func (s *Services) Add(svc ServiceInfo) { *s = append(*s, svc) }

// Publisher advertises a set of DNS-SD services under one Service
// Instance Name. One Publisher may publish several services (e.g. a
// printer's `_ipp._tcp` and `_http._tcp` entries) at once, matching the
// teacher's DnsSdPublisher.
type Publisher struct {
	Instance string
	Services Services

	sysdep *avahiSysdep
}

// NewPublisher builds a Publisher for services, not yet published.
func NewPublisher(services Services) *Publisher {
	return &Publisher{Services: services}
}

// Publish registers every configured service under instance. Grounded on
// the teacher's DnsSdPublisher.Publish.
func (p *Publisher) Publish(instance string, loopbackOnly, ipv6Enable bool) error {
	p.Instance = instance
	sysdep, err := newAvahiSysdep(instance, p.Services, loopbackOnly, ipv6Enable)
	if err != nil {
		return err
	}
	p.sysdep = sysdep
	return nil
}

// Unpublish withdraws every service this Publisher registered.
func (p *Publisher) Unpublish() {
	if p.sysdep != nil {
		p.sysdep.Close()
		p.sysdep = nil
	}
}

// PrinterServices builds the DNS-SD service set for one printer, per
// spec.md §3's discovery requirement: an `_ipp._tcp` (or `_ipp3d._tcp`
// for a 3D printer) entry carrying the usual IPP Everywhere TXT keys.
func PrinterServices(port int, name, uuid string, is3D bool) Services {
	svcType := "_ipp._tcp"
	rp := "ipp/print/" + name
	if is3D {
		svcType = "_ipp3d._tcp"
		rp = "ipp/print3d/" + name
	}

	var txt TxtRecord
	txt.Add("txtvers", "1")
	txt.Add("qtotal", "1")
	txt.Add("rp", rp)
	txt.AddIfNotEmpty("ty", name)
	txt.Add("adminurl", "http://"+name+".local/")
	txt.Add("UUID", uuid)
	txt.Add("print_wfds", "T")
	txt.Add("Color", "T")
	txt.Add("Duplex", "T")

	var svcs Services
	svcs.Add(ServiceInfo{Type: svcType, Port: port, Txt: txt})
	svcs.Add(ServiceInfo{Type: "_http._tcp", Port: port, Txt: nil})
	return svcs
}
