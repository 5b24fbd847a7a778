//go:build !linux

package dnssd

import "errors"

// avahiSysdep stub: Avahi/D-Bus publishing is Linux-only, matching the
// teacher's own dnssd_avahi.go build constraint.
type avahiSysdep struct{}

func newAvahiSysdep(instance string, services Services, loopbackOnly, ipv6Enable bool) (*avahiSysdep, error) {
	return nil, errors.New("dnssd: DNS-SD publishing is only supported on Linux")
}

func (sd *avahiSysdep) Close() {}
