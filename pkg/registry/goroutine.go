package registry

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID identifies the calling goroutine. Listeners run on the goroutine
// that performed the mutation, so a matching id on entry means the call came
// from inside a listener.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 42 [running]:"
	s := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	id, _ := strconv.ParseUint(string(s), 10, 64)
	return id
}
