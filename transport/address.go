//go:build linux

package transport

import (
	"net"
	"strconv"
	"strings"

	"github.com/murphy-substrate/core/errs"
)

// AddressFamily distinguishes the socket family an Address resolves to,
// kept as an explicit enum (rather than inferred ad hoc at every call site)
// so ParseHostPort can give AF_INET and AF_INET6 their own branches — see
// the §9 "parse_address fallthrough" resolution in SPEC_FULL.md.
type AddressFamily int

const (
	FamilyUnknown AddressFamily = iota
	FamilyInet4
	FamilyInet6
	FamilyUnix
	FamilyInternal
)

// Address is the parsed form of a prefix-qualified address string such as
// "tcp4:localhost:7913" or "unxs:@murphyd" (§4.6 "Address resolution").
type Address struct {
	Prefix   string
	Raw      string
	Family   AddressFamily
	Host     string
	Port     int
	Path     string // AF_UNIX sun_path, or the internal peer name
	Abstract bool   // leading-NUL sun_path, set for an "@name" unix address
}

func (a Address) String() string {
	switch a.Family {
	case FamilyInet4, FamilyInet6:
		return a.Prefix + ":" + net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
	case FamilyUnix:
		if a.Abstract {
			return a.Prefix + ":@" + a.Path
		}
		return a.Prefix + ":" + a.Path
	default:
		return a.Prefix + ":" + a.Path
	}
}

// ParseHostPort resolves "host:port" under the rules for family, rejecting
// unbracketed IPv6 literals in a *4 address. AF_INET and AF_INET6 are
// handled as two independent branches on purpose: the original
// implementation this spec was distilled from fell through from the INET6
// case into INET's parsing when the two were merged, corrupting the parsed
// node string (§9 Open Question 3 in SPEC_FULL.md).
func ParseHostPort(family AddressFamily, rest string) (host string, port int, err error) {
	switch family {
	case FamilyInet4:
		h, p, e := net.SplitHostPort(rest)
		if e != nil {
			return "", 0, errs.Wrap(errs.KindAddrResolve, "tcp4/udp4 address", e)
		}
		if strings.Contains(h, ":") {
			return "", 0, errs.New(errs.KindAddrResolve, "unbracketed IPv6 literal in a *4 address")
		}
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, errs.Wrap(errs.KindAddrResolve, "port", err)
		}
		return h, port, nil
	case FamilyInet6:
		h, p, e := net.SplitHostPort(rest)
		if e != nil {
			return "", 0, errs.Wrap(errs.KindAddrResolve, "tcp6/udp6 address", e)
		}
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, errs.Wrap(errs.KindAddrResolve, "port", err)
		}
		return h, port, nil
	default:
		return "", 0, errs.New(errs.KindUnsupported, "family has no host:port form")
	}
}

// ParseUnixPath splits a unxs:/unxdgrm: address body into its path and
// abstract-namespace flag: a leading '@' marks an abstract socket, encoded
// on the wire as a sun_path with a leading NUL byte instead of the '@'.
func ParseUnixPath(rest string) (path string, abstract bool) {
	if strings.HasPrefix(rest, "@") {
		return rest[1:], true
	}
	return rest, false
}

// ResolveAddress parses raw against the process-wide factory registry,
// giving each registered factory a chance in registration order; the first
// whose Prefix matches raw's leading "prefix:" wins (§4.6).
func ResolveAddress(raw string) (Address, Factory, error) {
	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return Address{}, nil, errs.New(errs.KindAddrResolve, "address missing a prefix: component")
	}
	prefix, rest := raw[:idx], raw[idx+1:]

	f, err := lookupFactory(prefix)
	if err != nil {
		return Address{}, nil, err
	}
	addr, err := f.ResolveAddress(rest)
	if err != nil {
		return Address{}, nil, err
	}
	addr.Prefix = prefix
	addr.Raw = raw
	return addr, f, nil
}
