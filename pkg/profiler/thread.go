package profiler

import (
	"strconv"

	"github.com/petermattis/goid"
)

// ThreadID identifies the thread of execution a section runs on.
// For EnterSection/ExitSection it is the calling goroutine's id.
type ThreadID int64

// CurrentThread returns the id of the calling goroutine.
func CurrentThread() ThreadID {
	return ThreadID(goid.Get())
}

func (t ThreadID) String() string {
	return strconv.FormatInt(int64(t), 10)
}
