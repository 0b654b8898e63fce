package mainloop

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the calling goroutine's id from its stack trace
// header ("goroutine 123 [running]:"). This is the standard (if
// informally supported) trick for giving Go code a thread-identity
// check; it is only used here to implement the spec's "IsMainloop"
// invariant and the Clear*Timer same-thread race rule (§4.1), never on
// a hot path.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}
