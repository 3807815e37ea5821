package batch

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ResourceExhaustedError signals call-stack or memory exhaustion during
// traversal of an oversized collection. It is always surfaced to the
// caller (it indicates a chunk-size defect, not a business-logic
// failure) together with the original cause.
type ResourceExhaustedError struct {
	Cause error
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource exhausted during collection traversal: %v", e.Cause)
}

func (e *ResourceExhaustedError) Unwrap() error { return e.Cause }

// IsResourceExhausted reports whether err is (or wraps) resource
// exhaustion.
func IsResourceExhausted(err error) bool {
	var re *ResourceExhaustedError
	return errors.As(err, &re)
}

// exhaustedPanic reports whether a recovered panic value describes
// memory or allocation exhaustion. Only runtime errors qualify; an
// ordinary worker bug (nil dereference, explicit panic) is not
// exhaustion and stays a per-item failure.
func exhaustedPanic(r any) bool {
	re, ok := r.(runtime.Error)
	if !ok {
		return false
	}
	msg := re.Error()
	for _, marker := range []string{
		"out of memory",
		"stack overflow",
		"len out of range",
		"cap out of range",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
