//go:build linux

// Package stream implements the TR stream drivers for tcp4, tcp6, and unxs
// (Unix domain stream sockets), registered against the process-wide
// transport.Factory registry (§4.6). Grounded on the original
// stream-transport.c's parse_address/open_socket/connect/accept flow, kept
// in the teacher's eventloop idiom: a raw fd wrapped to satisfy
// transport.FDOps, driven entirely by eventloop.IoWatch callbacks.
package stream

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/murphy-substrate/core/errs"
	"github.com/murphy-substrate/core/eventloop"
	"github.com/murphy-substrate/core/transport"
)

// Register installs the tcp4, tcp6, and unxs factories into the process-
// wide transport registry. Call once at startup, before any loop runs
// (§5's "process-wide registries ... populated before any loop starts
// running").
func Register() {
	transport.RegisterFactory(tcpFactory{prefix: "tcp4", family: unix.AF_INET, addrFamily: transport.FamilyInet4})
	transport.RegisterFactory(tcpFactory{prefix: "tcp6", family: unix.AF_INET6, addrFamily: transport.FamilyInet6})
	transport.RegisterFactory(unixFactory{})
}

// sockFD adapts a raw, non-blocking stream socket fd to transport.FDOps.
type sockFD struct{ fd int }

func (s *sockFD) FD() int { return s.fd }

func (s *sockFD) Read(buf []byte) (int, error) {
	n, err := unix.Read(s.fd, buf)
	return n, translate(err)
}

func (s *sockFD) Write(buf []byte) (int, error) {
	n, err := unix.Write(s.fd, buf)
	return n, translate(err)
}

func (s *sockFD) Close() error { return unix.Close(s.fd) }

func translate(err error) error {
	switch err {
	case nil:
		return nil
	case unix.EAGAIN:
		return errs.New(errs.KindAgain, "would block")
	default:
		return errs.Wrap(errs.KindIO, "stream socket I/O", err)
	}
}

// tcpFactory handles tcp4 and tcp6, differing only in socket family and the
// AddressFamily used for ParseHostPort (kept as two distinct Factory
// values, one per family, rather than one factory branching internally —
// mirrors the §9 fallthrough-bug resolution at the registry level too).
type tcpFactory struct {
	prefix     string
	family     int
	addrFamily transport.AddressFamily
}

func (f tcpFactory) Prefix() string { return f.prefix }

func (f tcpFactory) ResolveAddress(rest string) (transport.Address, error) {
	host, port, err := transport.ParseHostPort(f.addrFamily, rest)
	if err != nil {
		return transport.Address{}, err
	}
	return transport.Address{Family: f.addrFamily, Host: host, Port: port}, nil
}

func (f tcpFactory) sockaddr(addr transport.Address) (unix.Sockaddr, error) {
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

// Dial opens an active TCP connection. Connect runs synchronously (blocking
// connect(2)) and the fd is switched to non-blocking only once established;
// a fully async three-way-handshake state machine is not implemented, since
// nothing in this substrate needs non-blocking connect
// specifically, only non-blocking steady-state I/O.
func (f tcpFactory) Dial(loop *eventloop.Loop, addr transport.Address, cfg transport.Config) (*transport.Transport, error) {
	sa, err := f.sockaddr(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(f.family, unix.SOCK_STREAM, 0)
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
	t := transport.NewTransport(loop, addr, cfg, &sockFD{fd: fd}, true)
	if err := t.RegisterIO(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return t, nil
}

// Listen opens a passive TCP listener.
func (f tcpFactory) Listen(loop *eventloop.Loop, addr transport.Address, cfg transport.Config) (*transport.Listener, error) {
	sa, err := f.sockaddr(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(f.family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "setsockopt SO_REUSEADDR", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "set nonblock", err)
	}
	l := transport.NewListener(loop, addr, cfg, fd, func() (transport.FDOps, transport.Address, error) {
		cfd, peerSA, err := unix.Accept(fd)
		if err != nil {
			return nil, transport.Address{}, translate(err)
		}
		if err := unix.SetNonblock(cfd, true); err != nil {
			_ = unix.Close(cfd)
			return nil, transport.Address{}, errs.Wrap(errs.KindIO, "set nonblock", err)
		}
		return &sockFD{fd: cfd}, peerAddress(addr.Prefix, f.addrFamily, peerSA), nil
	})
	if err := l.RegisterIO(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return l, nil
}

func peerAddress(prefix string, family transport.AddressFamily, sa unix.Sockaddr) transport.Address {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return transport.Address{Prefix: prefix, Family: family, Host: net.IP(s.Addr[:]).String(), Port: s.Port}
	case *unix.SockaddrInet6:
		return transport.Address{Prefix: prefix, Family: family, Host: net.IP(s.Addr[:]).String(), Port: s.Port}
	default:
		return transport.Address{Prefix: prefix, Family: family}
	}
}

// unixFactory handles unxs, Unix-domain stream sockets, including the
// abstract-namespace "@name" form (§4.6 "Address resolution").
type unixFactory struct{}

func (unixFactory) Prefix() string { return "unxs" }

func (unixFactory) ResolveAddress(rest string) (transport.Address, error) {
	path, abstract := transport.ParseUnixPath(rest)
	return transport.Address{Family: transport.FamilyUnix, Path: path, Abstract: abstract}, nil
}

func unixSockaddrName(addr transport.Address) string {
	if addr.Abstract {
		return "\x00" + addr.Path
	}
	return addr.Path
}

func (unixFactory) Dial(loop *eventloop.Loop, addr transport.Address, cfg transport.Config) (*transport.Transport, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
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
	t := transport.NewTransport(loop, addr, cfg, &sockFD{fd: fd}, true)
	if err := t.RegisterIO(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return t, nil
}

func (unixFactory) Listen(loop *eventloop.Loop, addr transport.Address, cfg transport.Config) (*transport.Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "socket", err)
	}
	sa := &unix.SockaddrUnix{Name: unixSockaddrName(addr)}
	if !addr.Abstract {
		_ = unix.Unlink(addr.Path) // clear a stale socket file from a prior run
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.KindIO, "set nonblock", err)
	}
	l := transport.NewListener(loop, addr, cfg, fd, func() (transport.FDOps, transport.Address, error) {
		cfd, _, err := unix.Accept(fd)
		if err != nil {
			return nil, transport.Address{}, translate(err)
		}
		if err := unix.SetNonblock(cfd, true); err != nil {
			_ = unix.Close(cfd)
			return nil, transport.Address{}, errs.Wrap(errs.KindIO, "set nonblock", err)
		}
		return &sockFD{fd: cfd}, transport.Address{Prefix: "unxs", Family: transport.FamilyUnix, Path: addr.Path}, nil
	})
	if err := l.RegisterIO(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return l, nil
}
