//go:build linux

// Command murphyd is a minimal example daemon: it wires eventloop,
// transport, and bus into a TCP echo server, demonstrating the substrate
// end to end. Grounded on ublk's cmd/ublk-mem/main.go for the overall
// shape (flag parsing, construct, signal-driven shutdown, run until
// signal), adapted from a one-shot device-serve call to a long-running
// event loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/logiface"

	"github.com/murphy-substrate/core/bus"
	"github.com/murphy-substrate/core/eventloop"
	"github.com/murphy-substrate/core/logging"
	"github.com/murphy-substrate/core/transport"
	"github.com/murphy-substrate/core/transport/stream"
)

func main() {
	var (
		addr    = flag.String("addr", "tcp4:127.0.0.1:7913", "listen address (tcp4/tcp6/unxs)")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	level := logiface.LevelInformational
	if *verbose {
		level = logiface.LevelDebug
	}
	logger := logging.New(logging.WithLevel(level))

	loop, err := eventloop.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "murphyd: create event loop: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = loop.Destroy() }()

	eventBus := bus.New(loop, bus.WithLogger(logger))
	connOpened := bus.IDOf("murphyd.connection.opened")
	connClosed := bus.IDOf("murphyd.connection.closed")

	eventBus.WatchID(connOpened, bus.FormatNative, func(ev *bus.Event) {
		logger.Info().Str("peer", fmt.Sprint(ev.Native)).Log("connection opened")
	})
	eventBus.WatchID(connClosed, bus.FormatNative, func(ev *bus.Event) {
		logger.Info().Str("peer", fmt.Sprint(ev.Native)).Log("connection closed")
	})

	stream.Register()

	resolvedAddr, factory, err := transport.ResolveAddress(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "murphyd: resolve %s: %v\n", *addr, err)
		os.Exit(1)
	}

	cfg := transport.Config{
		Mode:   transport.ModeRaw,
		Logger: logger,
		Callbacks: transport.Callbacks{
			OnConnection: func(_ *transport.Listener, conn *transport.Transport) {
				eventBus.Emit(connOpened, conn.Address().String())
			},
			OnClosed: func(t *transport.Transport, _ error) {
				eventBus.Emit(connClosed, t.Address().String())
			},
			OnRecvRaw: func(t *transport.Transport, data []byte) {
				_ = t.SendRaw(data) // echo (scenario S1)
			},
		},
	}

	lsn, err := factory.Listen(loop, resolvedAddr, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "murphyd: listen on %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer func() { _ = lsn.Close() }()

	logger.Info().Str("addr", *addr).Log("listening")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := loop.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "murphyd: run: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Log("shutting down")
}
