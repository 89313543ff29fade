//go:build linux

package datagram

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murphy-substrate/core/eventloop"
	"github.com/murphy-substrate/core/transport"
)

func newTestLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	l, err := eventloop.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Destroy() })
	return l
}

// TestUDP4_S2Framing exercises scenario S2: Bind a receiving endpoint,
// Dial a connected sender, and confirm one SendRaw call produces exactly
// one whole datagram delivered to OnRecvRaw (no length-prefix framing, per
// §4.6's "datagram transports carry one payload per syscall").
func TestUDP4_S2Framing(t *testing.T) {
	Register()
	l := newTestLoop(t)

	var received []byte
	done := make(chan struct{})

	bindCfg := transport.Config{
		Mode: transport.ModeRaw,
		Callbacks: transport.Callbacks{
			OnRecvRaw: func(_ *transport.Transport, data []byte) {
				received = append(received, data...)
				close(done)
			},
		},
	}
	f := udpFactory{prefix: "udp4", family: 2, addrFamily: transport.FamilyInet4}
	_, err := f.Bind(l, transport.Address{
		Prefix: "udp4", Family: transport.FamilyInet4, Host: "127.0.0.1", Port: 17914,
	}, bindCfg)
	require.NoError(t, err)

	client, err := f.Dial(l, transport.Address{
		Prefix: "udp4", Family: transport.FamilyInet4, Host: "127.0.0.1", Port: 17914,
	}, transport.Config{Mode: transport.ModeRaw})
	require.NoError(t, err)

	require.NoError(t, client.SendRaw([]byte("beacon")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		<-done
		l.Quit(0)
	}()
	_, err = l.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "beacon", string(received))
}

func TestUDP4_ListenIsUnsupported(t *testing.T) {
	f := udpFactory{prefix: "udp4", family: 2, addrFamily: transport.FamilyInet4}
	_, err := f.Listen(nil, transport.Address{}, transport.Config{})
	require.Error(t, err)
}

// TestUnixDgram_S2Framing repeats the framing scenario over unxdgrm.
func TestUnixDgram_S2Framing(t *testing.T) {
	Register()
	l := newTestLoop(t)
	sockPath := filepath.Join(t.TempDir(), "murphy.dgram")

	var received []byte
	done := make(chan struct{})

	bindCfg := transport.Config{
		Mode: transport.ModeRaw,
		Callbacks: transport.Callbacks{
			OnRecvRaw: func(_ *transport.Transport, data []byte) {
				received = append(received, data...)
				close(done)
			},
		},
	}
	f := unixDgramFactory{}
	_, err := f.Bind(l, transport.Address{
		Prefix: "unxdgrm", Family: transport.FamilyUnix, Path: sockPath,
	}, bindCfg)
	require.NoError(t, err)

	client, err := f.Dial(l, transport.Address{
		Prefix: "unxdgrm", Family: transport.FamilyUnix, Path: sockPath,
	}, transport.Config{Mode: transport.ModeRaw})
	require.NoError(t, err)

	require.NoError(t, client.SendRaw([]byte("ping")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		<-done
		l.Quit(0)
	}()
	_, err = l.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(received))
}
