// Package netutils classifies IP addresses and hostnames for outbound
// probe policy. The fetch engine and the egress guard both refuse any
// destination this package does not call globally routable.
package netutils

import (
	"net"
)

// Class buckets an IP address by routability.
type Class int8

// Address classes, from most to least local.
const (
	ClassInvalid Class = iota
	ClassHostLocal
	ClassLinkLocal
	ClassSiteLocal
	ClassSpecial
	ClassLocalMulticast
	ClassGlobalMulticast
	ClassGlobal
)

func (c Class) String() string {
	switch c {
	case ClassHostLocal:
		return "host-local"
	case ClassLinkLocal:
		return "link-local"
	case ClassSiteLocal:
		return "site-local"
	case ClassSpecial:
		return "special-use"
	case ClassLocalMulticast:
		return "local-multicast"
	case ClassGlobalMulticast:
		return "global-multicast"
	case ClassGlobal:
		return "global"
	default:
		return "invalid"
	}
}

// ClassifyIP buckets ip into one of the address classes. Everything except
// ClassGlobal is off-limits for probes: loopback, RFC1918, link-local,
// carrier-grade NAT, multicast, the IANA special-use blocks, and the
// reserved 240/4 space (which includes the broadcast address). Cloud
// metadata endpoints (169.254.169.254, 100.100.100.200, 192.0.0.192,
// fd00:ec2::254 and friends) all fall inside these ranges.
func ClassifyIP(ip net.IP) Class {
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 0:
			// 0.0.0.0/8, includes the unspecified address
			return ClassSpecial
		case ip4[0] == 127:
			// 127.0.0.0/8
			return ClassHostLocal
		case ip4[0] == 10:
			// 10.0.0.0/8
			return ClassSiteLocal
		case ip4[0] == 100 && ip4[1]&0xc0 == 64:
			// 100.64.0.0/10 carrier-grade NAT
			return ClassSiteLocal
		case ip4[0] == 169 && ip4[1] == 254:
			// 169.254.0.0/16
			return ClassLinkLocal
		case ip4[0] == 172 && ip4[1]&0xf0 == 16:
			// 172.16.0.0/12
			return ClassSiteLocal
		case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 0:
			// 192.0.0.0/24 protocol assignments
			return ClassSpecial
		case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 2:
			// 192.0.2.0/24 TEST-NET-1
			return ClassSpecial
		case ip4[0] == 192 && ip4[1] == 168:
			// 192.168.0.0/16
			return ClassSiteLocal
		case ip4[0] == 198 && ip4[1]&0xfe == 18:
			// 198.18.0.0/15 benchmarking
			return ClassSpecial
		case ip4[0] == 198 && ip4[1] == 51 && ip4[2] == 100:
			// 198.51.100.0/24 TEST-NET-2
			return ClassSpecial
		case ip4[0] == 203 && ip4[1] == 0 && ip4[2] == 113:
			// 203.0.113.0/24 TEST-NET-3
			return ClassSpecial
		case ip4[0] == 224:
			// 224.0.0.0/8
			return ClassLocalMulticast
		case ip4[0] >= 225 && ip4[0] <= 239:
			// 225.0.0.0/8 - 239.0.0.0/8
			return ClassGlobalMulticast
		case ip4[0] >= 240:
			// 240.0.0.0/4 reserved, includes 255.255.255.255
			return ClassSpecial
		default:
			return ClassGlobal
		}
	}

	if len(ip) == net.IPv6len {
		switch {
		case ip.IsUnspecified():
			return ClassSpecial
		case ip.Equal(net.IPv6loopback):
			return ClassHostLocal
		case isZeros(ip[:12]):
			// deprecated IPv4-compatible form (::a.b.c.d); classify the
			// embedded address so it cannot smuggle a local target
			return ClassifyIP(net.IPv4(ip[12], ip[13], ip[14], ip[15]))
		case ip[0]&0xfe == 0xfc:
			// fc00::/7 unique local
			return ClassSiteLocal
		case ip[0] == 0xfe && ip[1]&0xc0 == 0x80:
			// fe80::/10
			return ClassLinkLocal
		case ip[0] == 0x20 && ip[1] == 0x01 && ip[2] == 0x0d && ip[3] == 0xb8:
			// 2001:db8::/32 documentation
			return ClassSpecial
		case ip[0] == 0xff && ip[1] <= 0x05:
			// ff00::/16 - ff05::/16
			return ClassLocalMulticast
		case ip[0] == 0xff:
			// other ff00::/8
			return ClassGlobalMulticast
		default:
			return ClassGlobal
		}
	}

	return ClassInvalid
}

// IsPrivateIP reports whether the textual address is anything other than
// globally routable unicast. Unparseable input counts as private: an
// address we cannot understand is never dialed.
func IsPrivateIP(address string) bool {
	ip := net.ParseIP(address)
	if ip == nil {
		return true
	}
	return ClassifyIP(ip) != ClassGlobal
}

// IPIsGlobal returns true if the given IP is globally routable unicast.
func IPIsGlobal(ip net.IP) bool {
	return ClassifyIP(ip) == ClassGlobal
}

// IPIsLocal returns true if the given IP is site-local or link-local.
func IPIsLocal(ip net.IP) bool {
	switch ClassifyIP(ip) {
	case ClassSiteLocal, ClassLinkLocal:
		return true
	default:
		return false
	}
}

func isZeros(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
