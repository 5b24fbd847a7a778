//go:build linux

package dnssd

import (
	"fmt"
	"net"

	"github.com/godbus/dbus/v5"
	"github.com/holoplot/go-avahi"
)

// avahiSysdep is the system-dependent half of a Publisher: one D-Bus
// connection to the system's avahi-daemon, one entry group holding every
// service this Publisher registered. Grounded on the teacher's
// dnssdSysdep/newDnssdSysdep/Close in dnssd_avahi.go, rebuilt on
// github.com/holoplot/go-avahi's D-Bus proxy instead of the teacher's
// direct cgo binding against libavahi-client.
type avahiSysdep struct {
	conn  *dbus.Conn
	group *avahi.EntryGroup
}

// newAvahiSysdep connects to the system bus, opens an entry group, and
// commits every service in services under instance.
func newAvahiSysdep(instance string, services Services, loopbackOnly, ipv6Enable bool) (*avahiSysdep, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("dnssd: system bus: %w", err)
	}

	server, err := avahi.ServerNew(conn)
	if err != nil {
		return nil, fmt.Errorf("dnssd: avahi server: %w", err)
	}

	group, err := server.EntryGroupNew()
	if err != nil {
		return nil, fmt.Errorf("dnssd: entry group: %w", err)
	}

	iface := int32(avahi.InterfaceUnspec)
	if loopbackOnly {
		if idx, lerr := loopbackIndex(); lerr == nil {
			iface = idx
		}
	}

	proto := int32(avahi.ProtoUnspec)
	if !ipv6Enable {
		proto = avahi.ProtoInet
	}

	for _, svc := range services {
		err := group.AddService(iface, proto, 0, instance, svc.Type, "", "", uint16(svc.Port), svc.Txt.export())
		if err != nil {
			group.Free()
			return nil, fmt.Errorf("dnssd: add service %s: %w", svc.Type, err)
		}
	}

	if err := group.Commit(); err != nil {
		group.Free()
		return nil, fmt.Errorf("dnssd: commit: %w", err)
	}

	return &avahiSysdep{conn: conn, group: group}, nil
}

// Close withdraws every published service and releases the bus connection.
func (sd *avahiSysdep) Close() {
	sd.group.Reset()
	sd.group.Free()
	sd.conn.Close()
}

// loopbackIndex finds the system's loopback interface index, for when
// the daemon is restricted to loopback-only per config.
func loopbackIndex() (int32, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0, err
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 {
			return int32(ifc.Index), nil
		}
	}
	return 0, fmt.Errorf("dnssd: no loopback interface found")
}
