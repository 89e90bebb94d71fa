package ck_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/clusterkit/clusterkit/pkg/ck"
	tu "github.com/clusterkit/clusterkit/pkg/testutil"
	"github.com/nats-io/nats.go"
)

func TestErrorIs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("getting: %w", &ck.Error{
		Status:  http.StatusNotFound,
		Reason:  ck.ReasonNotFound,
		Message: "ReplicationController \"nginx\" not found",
	})
	tu.AssertErrorIs(t, err, ck.ErrNotFound)
	tu.AssertTrue(t, ck.IsNotFound(err), "IsNotFound")
	tu.AssertTrue(t, !ck.IsConflict(err), "IsConflict")
	tu.AssertTrue(t, !errors.Is(err, ck.ErrAlreadyExists), "AlreadyExists")

	// Same status, different reason.
	conflict := &ck.Error{Status: http.StatusConflict, Reason: ck.ReasonConflict}
	tu.AssertTrue(t, !errors.Is(conflict, ck.ErrAlreadyExists), "conflict is not already exists")
	tu.AssertTrue(t, ck.IsConflict(conflict), "IsConflict")
}

func TestErrorFromNATSErr(t *testing.T) {
	t.Parallel()

	type testcase struct {
		err    error
		status int
	}
	tcs := []testcase{
		{err: nats.ErrTimeout, status: http.StatusGatewayTimeout},
		{err: context.DeadlineExceeded, status: http.StatusGatewayTimeout},
		{err: nats.ErrNoResponders, status: http.StatusBadGateway},
		{err: nats.ErrConnectionClosed, status: http.StatusInternalServerError},
	}
	for _, tc := range tcs {
		err := ck.ErrorFromNATSErr(tc.err)
		ckErr := tu.AssertErrorAs[*ck.Error](t, err)
		tu.AssertEqual(t, tc.status, ckErr.Status)
		tu.AssertTrue(t, ck.IsTransport(err), "IsTransport")
		// The nats error stays reachable.
		tu.AssertErrorIs(t, err, tc.err)
	}
	tu.AssertNoError(t, ck.ErrorFromNATSErr(nil))
}

func TestErrorSuppressed(t *testing.T) {
	t.Parallel()

	first := &ck.Error{
		Status:  http.StatusBadGateway,
		Reason:  ck.ReasonTransport,
		Message: "deleting a",
	}
	second := errors.New("deleting b")
	third := errors.New("deleting c")

	withSuppressed := first.WithSuppressed(second, third)
	tu.AssertEqual(t, 0, len(first.Suppressed()))
	tu.AssertEqual(t, 2, len(withSuppressed.Suppressed()))
	tu.AssertTrue(t, withSuppressed.Suppressed()[0] == second, "suppressed order")
	tu.AssertTrue(t, withSuppressed.Suppressed()[1] == third, "suppressed order")
	tu.AssertEqual(
		t,
		"deleting a (status 502, 2 suppressed)",
		withSuppressed.Error(),
	)

	wrapped := fmt.Errorf("example: %w", withSuppressed)
	tu.AssertEqual(t, 2, len(ck.Suppressed(wrapped)))
	tu.AssertEqual(t, 0, len(ck.Suppressed(second)))
}

func TestErrorWrap(t *testing.T) {
	t.Parallel()

	err := ck.ErrorWrap(ck.ErrNotFound, http.StatusInternalServerError, "get")
	ckErr := tu.AssertErrorAs[*ck.Error](t, err)
	tu.AssertEqual(t, http.StatusNotFound, ckErr.Status)
	tu.AssertEqual(t, ck.ReasonNotFound, ckErr.Reason)

	err = ck.ErrorWrap(errors.New("boom"), http.StatusBadGateway, "connect")
	ckErr = tu.AssertErrorAs[*ck.Error](t, err)
	tu.AssertEqual(t, ck.ReasonTransport, ckErr.Reason)
	tu.AssertEqual(t, "connect: boom", ckErr.Message)
}
