package eventloop

import "sync/atomic"

// LoopState is the lifecycle of a Loop.
type LoopState uint32

const (
	StateCreated LoopState = iota
	StateRunning
	StateTerminating
	StateTerminated
)

func (s LoopState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// fastState is an atomically-updated state machine, cache-line padded so it
// does not false-share with adjacent hot fields on the Loop struct.
type fastState struct {
	_     [64]byte
	value atomic.Uint32
	_     [60]byte
}

func newFastState(initial LoopState) *fastState {
	s := &fastState{}
	s.value.Store(uint32(initial))
	return s
}

func (s *fastState) load() LoopState { return LoopState(s.value.Load()) }

func (s *fastState) store(v LoopState) { s.value.Store(uint32(v)) }

func (s *fastState) tryTransition(from, to LoopState) bool {
	return s.value.CompareAndSwap(uint32(from), uint32(to))
}

func (s *fastState) isTerminal() bool {
	v := s.load()
	return v == StateTerminating || v == StateTerminated
}
