//go:build linux

package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murphy-substrate/core/errs"
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

func TestBind_DuplicateNameFails(t *testing.T) {
	l := newTestLoop(t)
	require.NoError(t, Bind(l, "dup-name", transport.Config{}))
	t.Cleanup(func() { Unbind("dup-name") })

	err := Bind(l, "dup-name", transport.Config{})
	require.Error(t, err)
	assert.Equal(t, errs.KindExists, errs.Of(err))
}

func TestDial_UnknownNameFails(t *testing.T) {
	l := newTestLoop(t)
	_, err := factory{}.Dial(l, transport.Address{Path: "no-such-binding"}, transport.Config{})
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.Of(err))
}

func TestListen_Unsupported(t *testing.T) {
	_, err := factory{}.Listen(nil, transport.Address{}, transport.Config{})
	require.Error(t, err)
	assert.Equal(t, errs.KindUnsupported, errs.Of(err))
}

func TestDial_DeliversMessageAcrossPair(t *testing.T) {
	Register()
	t.Cleanup(func() { Unbind("echo-svc") })

	l := newTestLoop(t)

	var serverReceived []byte
	serverDone := make(chan struct{})

	bindCfg := transport.Config{
		Mode: transport.ModeRaw,
		Callbacks: transport.Callbacks{
			OnRecvRaw: func(_ *transport.Transport, data []byte) {
				serverReceived = append(serverReceived, data...)
				close(serverDone)
			},
		},
	}
	require.NoError(t, Bind(l, "echo-svc", bindCfg))

	client, err := factory{}.Dial(l, transport.Address{Path: "echo-svc"}, transport.Config{Mode: transport.ModeRaw})
	require.NoError(t, err)

	require.NoError(t, client.SendRaw([]byte("request")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		<-serverDone
		l.Quit(0)
	}()
	_, err = l.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "request", string(serverReceived))
}

// TestDial_BurstBeforePollDeliversEveryMessage queues three messages on the
// client side before the loop ever polls, so the server's per-pair eventfd
// counter sits at 3 when the first readiness callback runs. With
// EFD_SEMAPHORE each Read decrements the counter by one rather than
// zeroing it, so the fd stays readable until exactly three reads have
// drained it; without EFD_SEMAPHORE the first Read would zero the counter
// and strand the remaining two queued messages.
func TestDial_BurstBeforePollDeliversEveryMessage(t *testing.T) {
	Register()
	t.Cleanup(func() { Unbind("burst-svc") })

	l := newTestLoop(t)

	var serverReceived []string
	serverDone := make(chan struct{})

	bindCfg := transport.Config{
		Mode: transport.ModeRaw,
		Callbacks: transport.Callbacks{
			OnRecvRaw: func(_ *transport.Transport, data []byte) {
				serverReceived = append(serverReceived, string(data))
				if len(serverReceived) == 3 {
					close(serverDone)
				}
			},
		},
	}
	require.NoError(t, Bind(l, "burst-svc", bindCfg))

	client, err := factory{}.Dial(l, transport.Address{Path: "burst-svc"}, transport.Config{Mode: transport.ModeRaw})
	require.NoError(t, err)

	require.NoError(t, client.SendRaw([]byte("one")))
	require.NoError(t, client.SendRaw([]byte("two")))
	require.NoError(t, client.SendRaw([]byte("three")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		<-serverDone
		l.Quit(0)
	}()
	_, err = l.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, serverReceived)
}
