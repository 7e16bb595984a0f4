//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package hardhat

import (
	"errors"
	"fmt"
)

func errShortWrite(n, want int) error {
	return fmt.Errorf("hardhat: incomplete write; exp %d, saw %d", want, n)
}

var (
	// ErrNotOpen names the error for an operation on a closed or finished
	// Builder or DB. No function in this package returns it; a finished
	// Builder reports ErrFrozen instead.
	ErrNotOpen = errors.New("hardhat: not open")

	// ErrFrozen is returned when Add or Parents is called after Finish.
	ErrFrozen = errors.New("hardhat: builder already finished")

	// ErrFailed is returned by any call made on a Builder that has
	// already recorded a fatal error.
	ErrFailed = errors.New("hardhat: builder has failed")

	// ErrInvalidArgument covers bad alignment/blocksize values, keys or
	// values that exceed the format's length limits, and similar caller
	// errors.
	ErrInvalidArgument = errors.New("hardhat: invalid argument")

	// ErrOutOfMemory names the out-of-memory error kind. No function in
	// this package returns it: an allocation failure in Go panics.
	ErrOutOfMemory = errors.New("hardhat: out of memory")
)

// ProtocolError reports the specific reason a file failed structural
// validation in Open.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("hardhat: invalid database: %s", e.Reason)
}

func protoErr(format string, v ...interface{}) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, v...)}
}
