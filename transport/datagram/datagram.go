//go:build linux

// Package datagram implements the TR datagram drivers for udp4, udp6, and
// unxdgrm (Unix domain datagram sockets), grounded on the original
// dgram-transport.c's open/bind/connect/recv flow. Per spec §4.6, datagram
// transports have no listen/accept path; Bind stands in for it, producing
// one Transport that receives whatever peer sends to the bound address.
package datagram

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/murphy-substrate/core/errs"
	"github.com/murphy-substrate/core/eventloop"
	"github.com/murphy-substrate/core/transport"
)

// Register installs the udp4, udp6, and unxdgrm factories into the
// process-wide transport registry.
func Register() {
	transport.RegisterFactory(udpFactory{prefix: "udp4", family: unix.AF_INET, addrFamily: transport.FamilyInet4})
	transport.RegisterFactory(udpFactory{prefix: "udp6", family: unix.AF_INET6, addrFamily: transport.FamilyInet6})
	transport.RegisterFactory(unixDgramFactory{})
}

type sockFD struct{ fd int }

func (s *sockFD) FD() int { return s.fd }

func (s *sockFD) Read(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	return n, translate(err)
}

func (s *sockFD) Write(buf []byte) (int, error) {
	err := unix.Sendto(s.fd, buf, 0, nil)
	if err != nil {
		return 0, translate(err)
	}
	return len(buf), nil
}

func (s *sockFD) Close() error { return unix.Close(s.fd) }

func translate(err error) error {
	switch err {
	case nil:
		return nil
	case unix.EAGAIN:
		return errs.New(errs.KindAgain, "would block")
	default:
		return errs.Wrap(errs.KindIO, "datagram socket I/O", err)
	}
}

type udpFactory struct {
	prefix     string
	family     int
	addrFamily transport.AddressFamily
}

func (f udpFactory) Prefix() string { return f.prefix }

func (f udpFactory) ResolveAddress(rest string) (transport.Address, error) {
	host, port, err := transport.ParseHostPort(f.addrFamily, rest)
	if err != nil {
		return transport.Address{}, err
	}
	return transport.Address{Family: f.addrFamily, Host: host, Port: port}, nil
}

func (f udpFactory) sockaddr(addr transport.Address) (unix.Sockaddr, error) {
	ipNet := "ip4"
	if f.family == unix.AF_INET6 {
		ipNet = "ip6"
	}
	ipAddr, err := net.ResolveIPAddr(ipNet, addr.Host)
	if err != nil {
		return nil, errs.Wrap(errs.KindAddrResolve, "resolve host", err)
	}
	if f.family == unix.AF_INET6 {
		var a [16]byte
		copy(a[:], ipAddr.IP.To16())
		return &unix.SockaddrInet6{Port: addr.Port, Addr: a}, nil
	}
	var a [4]byte
	copy(a[:], ipAddr.IP.To4())
	return &unix.SockaddrInet4{Port: addr.Port, Addr: a}, nil
}

// Dial opens a connected UDP socket: datagrams are exchanged with exactly
// one peer, so Transport.readWhole/Write can treat it like any other
// connected socket. Bind below leaves its socket unconnected, and no
// per-datagram destination (sendto-style) call is offered.
func (f udpFactory) Dial(loop *eventloop.Loop, addr transport.Address, cfg transport.Config) (*transport.Transport, error) {
	sa, err := f.sockaddr(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(f.family, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "socket", err)
	}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "connect", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "set nonblock", err)
	}
	t := transport.NewTransport(loop, addr, cfg, &sockFD{fd: fd}, false)
	if err := t.RegisterIO(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return t, nil
}

// Listen is unsupported for datagram transports (§4.6): use Bind instead.
func (f udpFactory) Listen(*eventloop.Loop, transport.Address, transport.Config) (*transport.Listener, error) {
	return nil, errs.New(errs.KindUnsupported, "datagram transports have no listen/accept path, use Bind")
}

// Bind opens addr as a receiving endpoint for any sender (the datagram
// analogue of a listener, minus accept): every received datagram dispatches
// through the returned Transport's OnRecv* callback.
func (f udpFactory) Bind(loop *eventloop.Loop, addr transport.Address, cfg transport.Config) (*transport.Transport, error) {
	sa, err := f.sockaddr(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(f.family, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "socket", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "bind", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "set nonblock", err)
	}
	t := transport.NewTransport(loop, addr, cfg, &sockFD{fd: fd}, false)
	if err := t.RegisterIO(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return t, nil
}

// unixDgramFactory handles unxdgrm, Unix domain datagram sockets.
type unixDgramFactory struct{}

func (unixDgramFactory) Prefix() string { return "unxdgrm" }

func (unixDgramFactory) ResolveAddress(rest string) (transport.Address, error) {
	path, abstract := transport.ParseUnixPath(rest)
	return transport.Address{Family: transport.FamilyUnix, Path: path, Abstract: abstract}, nil
}

func unixSockaddrName(addr transport.Address) string {
	if addr.Abstract {
		return "\x00" + addr.Path
	}
	return addr.Path
}

func (unixDgramFactory) Dial(loop *eventloop.Loop, addr transport.Address, cfg transport.Config) (*transport.Transport, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "socket", err)
	}
	sa := &unix.SockaddrUnix{Name: unixSockaddrName(addr)}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "connect", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "set nonblock", err)
	}
	t := transport.NewTransport(loop, addr, cfg, &sockFD{fd: fd}, false)
	if err := t.RegisterIO(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return t, nil
}

func (unixDgramFactory) Listen(*eventloop.Loop, transport.Address, transport.Config) (*transport.Listener, error) {
	return nil, errs.New(errs.KindUnsupported, "datagram transports have no listen/accept path, use Bind")
}

func (unixDgramFactory) Bind(loop *eventloop.Loop, addr transport.Address, cfg transport.Config) (*transport.Transport, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "socket", err)
	}
	if !addr.Abstract {
		_ = unix.Unlink(addr.Path)
	}
	sa := &unix.SockaddrUnix{Name: unixSockaddrName(addr)}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "bind", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "set nonblock", err)
	}
	t := transport.NewTransport(loop, addr, cfg, &sockFD{fd: fd}, false)
	if err := t.RegisterIO(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return t, nil
}
