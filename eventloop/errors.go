package eventloop

import "github.com/murphy-substrate/core/errs"

var (
	ErrLoopAlreadyRunning = errs.New(errs.KindInvalidArgument, "loop is already running")
	ErrLoopNotRunning     = errs.New(errs.KindInvalidArgument, "loop is not running")
	ErrLoopTerminated     = errs.New(errs.KindClosed, "loop has terminated")
	ErrReentrantRun       = errs.New(errs.KindInvalidArgument, "Run called re-entrantly from the loop thread")
)
