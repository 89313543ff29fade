//go:build linux

package transport

import (
	"sync"

	"github.com/murphy-substrate/core/errs"
	"github.com/murphy-substrate/core/eventloop"
)

// Factory is a transport descriptor registered under an address-prefix
// name (tcp4, tcp6, unxs, udp4, udp6, unxdgrm, internal, ...). It exposes
// the operations that differ per concrete transport kind: resolve
// (ResolveAddress), connect (Dial) and listen (Listen);
// Transport/Listener themselves own the send/recv/close paths that are
// common to every driver (§4.6).
type Factory interface {
	// Prefix is the address-prefix this factory answers to, e.g. "tcp4".
	Prefix() string
	// ResolveAddress parses the address body following "prefix:" into an
	// Address. The returned Address's Prefix/Raw fields are filled in by
	// the caller (ResolveAddress at package level), not the factory.
	ResolveAddress(rest string) (Address, error)
	// Dial opens an active (connecting) transport to addr.
	Dial(loop *eventloop.Loop, addr Address, cfg Config) (*Transport, error)
	// Listen opens a passive (listening) transport bound to addr.
	Listen(loop *eventloop.Loop, addr Address, cfg Config) (*Listener, error)
}

var (
	registryMu sync.Mutex
	registry   []Factory // in registration order, per §4.6 "first to accept wins"
)

// RegisterFactory adds f to the process-wide registry. Per §5, process-wide
// registries are populated once, before any loop starts running; callers
// are expected to call this from an init-time path, not per-connection.
func RegisterFactory(f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, existing := range registry {
		if existing.Prefix() == f.Prefix() {
			return // first registration for a prefix wins, later ones are no-ops
		}
	}
	registry = append(registry, f)
}

func lookupFactory(prefix string) (Factory, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, f := range registry {
		if f.Prefix() == prefix {
			return f, nil
		}
	}
	return nil, errs.New(errs.KindAddrResolve, "no transport factory registered for prefix "+prefix)
}
