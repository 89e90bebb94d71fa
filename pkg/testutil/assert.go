package testutil

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// AssertNoError checks if the error is nil.
func AssertNoError(t *testing.T, err error, msg ...string) {
	t.Helper()
	if err != nil {
		t.Fatal(callers(), err, msg)
	}
}

// AssertErrorIs checks if the error is another error.
func AssertErrorIs(t *testing.T, err error, expErr error, msg ...string) {
	t.Helper()
	if err == nil {
		t.Fatal(callers(), msg, errors.New("error was expected but is nil"))
	}
	if !errors.Is(err, expErr) {
		t.Fatal(
			callers(),
			msg,
			fmt.Errorf("expected error %v but got %v", expErr, err),
		)
	}
}

// AssertErrorAs checks if the error is of type T and returns it.
func AssertErrorAs[T error](t *testing.T, err error, msg ...string) T {
	t.Helper()
	if err == nil {
		t.Fatal(callers(), msg, errors.New("error was expected but is nil"))
	}
	var v T
	if !errors.As(err, &v) {
		t.Fatal(
			callers(),
			msg,
			fmt.Errorf("error not of expected type: %#v", err),
		)
	}
	return v
}

// AssertReason checks that err is a [ck.Error] with the given reason.
func AssertReason(t *testing.T, err error, reason ck.Reason, msg ...string) {
	t.Helper()
	ckErr := AssertErrorAs[*ck.Error](t, err, msg...)
	if ckErr.Reason != reason {
		t.Fatal(
			callers(),
			msg,
			fmt.Errorf("expected reason %q but got %q: %v", reason, ckErr.Reason, err),
		)
	}
}

// AssertEqual checks if the expected and actual are equal. Errors if not.
func AssertEqual(
	t *testing.T,
	expected, actual interface{},
	opts ...cmp.Option,
) {
	t.Helper()
	if diff := Diff(actual, expected, opts...); diff != "" {
		t.Fatal(callers(), diff)
	}
}

// AssertTrue checks if the condition is true. Errors if not.
func AssertTrue(t *testing.T, condition bool, msg ...string) {
	t.Helper()
	if !condition {
		t.Fatal("expected true, got false: ", msg)
	}
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(
	t *testing.T,
	timeout time.Duration,
	cond func() bool,
	msg ...string,
) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(callers(), "condition not met after ", timeout, msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Diff compares two items and returns a human-readable diff string. If the
// items are equal, the string is empty.
func Diff[T any](got, want T, opts ...cmp.Option) string {
	// nolint: gocritic
	oo := append(
		opts,
		cmp.Exporter(func(reflect.Type) bool { return true }),
		cmpopts.EquateEmpty(),
	)

	diff := cmp.Diff(got, want, oo...)
	if diff != "" {
		return "\n-got +want\n" + diff
	}

	return ""
}

// callers returns the test file locations on the stack, for failures raised
// from helpers nested in other helpers.
func callers() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var locs []string
	for {
		frame, more := frames.Next()
		if strings.HasSuffix(frame.File, "_test.go") {
			locs = append(locs, fmt.Sprintf("%s:%d", frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return strings.Join(locs, " <- ")
}
