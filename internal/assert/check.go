// Package assert holds the internal "this should never happen" checks used
// across go-e57. Unlike e57errors.Error, which reports conditions a caller
// can legitimately trigger (bad arguments, I/O failures, malformed files),
// a failed Chk assertion means the implementation itself violated one of
// its own invariants and panics rather than returning an error.
package assert

import (
	"fmt"

	"github.com/stretchr/testify/assert"
)

// Chk panics (rather than failing a test) when an assertion does not hold.
// Grounded on the teacher's d.Chk (testify's Assertions driven by a
// panicking TestingT).
var Chk = assert.New(&panicker{})

type panicker struct{}

func (panicker) Errorf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

// True panics with msg unless cond holds. Shorthand for the common case
// where Chk's testify-flavored API is more ceremony than the call site
// needs.
func True(cond bool, msg string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(msg, args...))
	}
}
