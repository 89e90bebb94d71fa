package ck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/nats-io/nats.go"
)

// Reason classifies an [Error] independently of its message.
type Reason string

const (
	ReasonNotFound        Reason = "NotFound"
	ReasonAlreadyExists   Reason = "AlreadyExists"
	ReasonConflict        Reason = "Conflict"
	ReasonSelectorInvalid Reason = "SelectorInvalid"
	ReasonInvalid         Reason = "Invalid"
	ReasonForbidden       Reason = "Forbidden"
	ReasonBadRequest      Reason = "BadRequest"
	ReasonTransport       Reason = "Transport"
	ReasonInternal        Reason = "Internal"
)

var (
	ErrNotFound = &Error{
		Status: http.StatusNotFound,
		Reason: ReasonNotFound,
	}
	ErrAlreadyExists = &Error{
		Status: http.StatusConflict,
		Reason: ReasonAlreadyExists,
	}
	ErrConflict = &Error{
		Status: http.StatusConflict,
		Reason: ReasonConflict,
	}
	ErrSelectorInvalid = &Error{
		Status: http.StatusBadRequest,
		Reason: ReasonSelectorInvalid,
	}
	ErrInvalid = &Error{
		Status: http.StatusUnprocessableEntity,
		Reason: ReasonInvalid,
	}
	ErrForbidden = &Error{
		Status: http.StatusForbidden,
		Reason: ReasonForbidden,
	}
	ErrTransport = &Error{
		Status: http.StatusBadGateway,
		Reason: ReasonTransport,
	}
)

var _ error = (*Error)(nil)

type Error struct {
	// Status is the HTTP status code applicable to this problem.
	Status  int    `json:"status,omitempty"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	// Cause is the underlying error, typically from the nats client.
	Cause error `json:"-"`
	// suppressed holds secondary failures of a batch operation.
	suppressed []error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Reason)
	}
	if len(e.suppressed) > 0 {
		return fmt.Sprintf(
			"%s (status %d, %d suppressed)",
			msg,
			e.Status,
			len(e.suppressed),
		)
	}
	return fmt.Sprintf("%s (status %d)", msg, e.Status)
}

// Is matches on the reason, so that errors.Is(err, ErrNotFound) holds for any
// not found error regardless of its message.
func (e *Error) Is(err error) bool {
	target, ok := err.(*Error)
	if !ok {
		return false
	}
	if target.Reason != "" {
		return e.Reason == target.Reason
	}
	return e.Status == target.Status && e.Message == target.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Suppressed returns the secondary errors of a batch operation whose first
// failure is e.
func (e *Error) Suppressed() []error {
	return e.suppressed
}

// WithSuppressed returns a copy of e carrying the given secondary errors.
func (e *Error) WithSuppressed(errs ...error) *Error {
	c := *e
	c.suppressed = append(append([]error{}, e.suppressed...), errs...)
	return &c
}

// Suppressed returns the secondary errors attached to err, if err is an
// [Error].
func Suppressed(err error) []error {
	var ckErr *Error
	if errors.As(err, &ckErr) {
		return ckErr.Suppressed()
	}
	return nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsSelectorInvalid(err error) bool {
	return errors.Is(err, ErrSelectorInvalid)
}

func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// ReasonForStatus derives a reason when a peer replied with a status only.
func ReasonForStatus(status int) Reason {
	switch status {
	case http.StatusNotFound:
		return ReasonNotFound
	case http.StatusConflict:
		return ReasonConflict
	case http.StatusBadRequest:
		return ReasonBadRequest
	case http.StatusUnprocessableEntity:
		return ReasonInvalid
	case http.StatusForbidden:
		return ReasonForbidden
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return ReasonTransport
	}
	return ReasonInternal
}

func ErrorFromNATSErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, nats.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return &Error{
			Status:  http.StatusGatewayTimeout,
			Reason:  ReasonTransport,
			Message: fmt.Sprintf("nats timeout: %s", err.Error()),
			Cause:   err,
		}
	case errors.Is(err, nats.ErrNoResponders):
		return &Error{
			Status:  http.StatusBadGateway,
			Reason:  ReasonTransport,
			Message: fmt.Sprintf("store not responding: %s", err.Error()),
			Cause:   err,
		}
	}
	return &Error{
		Status:  http.StatusInternalServerError,
		Reason:  ReasonTransport,
		Message: fmt.Sprintf("nats error: %s", err.Error()),
		Cause:   err,
	}
}

// ErrorFromNATS reads the status and reason headers of a store reply.
// It returns nil for an OK reply.
func ErrorFromNATS(msg *nats.Msg) error {
	headerStatus := msg.Header.Get(HeaderStatus)
	status, err := strconv.Atoi(headerStatus)
	if err != nil {
		return &Error{
			Status:  http.StatusInternalServerError,
			Reason:  ReasonTransport,
			Message: fmt.Sprintf("invalid status header %q", headerStatus),
			Cause:   err,
		}
	}
	if status == http.StatusOK {
		return nil
	}
	reason := Reason(msg.Header.Get(HeaderReason))
	if reason == "" {
		reason = ReasonForStatus(status)
	}
	return &Error{
		Status:  status,
		Reason:  reason,
		Message: string(msg.Data),
	}
}

// ErrorWrap takes an error and checks if it is an [Error].
// If it is, it will make a copy of the [Error], add the given message and
// return it. The status and reason will remain the same.
//
// If it is not an [Error], it will wrap the given error in an [Error] with the
// given status and message.
func ErrorWrap(
	err error,
	status int,
	message string,
) error {
	if err == nil {
		return nil
	}
	var ckErr *Error
	if errors.As(err, &ckErr) {
		c := *ckErr
		c.Message = fmt.Sprintf("%s: %s", message, ckErr.Message)
		return &c
	}
	return &Error{
		Status:  status,
		Reason:  ReasonForStatus(status),
		Message: fmt.Sprintf("%s: %s", message, err.Error()),
		Cause:   err,
	}
}

// RespondError responds to a NATS message with an error.
// It expects the err to be an *Error and will use the status, reason and
// message for the response.
// If not, it will use a http.StatusInternalServerError.
func RespondError(
	msg *nats.Msg,
	err error,
) error {
	if msg.Reply == "" {
		return errors.New("no reply subject")
	}
	text := err.Error()
	status := http.StatusInternalServerError
	reason := ReasonInternal

	var respErr *Error
	if errors.As(err, &respErr) {
		status = respErr.Status
		reason = respErr.Reason
		text = respErr.Message
	}
	response := nats.NewMsg(msg.Reply)
	response.Data = []byte(text)
	response.Header.Set(HeaderStatus, strconv.Itoa(status))
	response.Header.Set(HeaderReason, string(reason))
	return msg.RespondMsg(response)
}

func RespondOK(
	msg *nats.Msg,
	body []byte,
) error {
	if msg.Reply == "" {
		return errors.New("no reply subject")
	}
	response := nats.NewMsg(msg.Reply)
	response.Data = body
	response.Header.Set(HeaderStatus, strconv.Itoa(http.StatusOK))
	return msg.RespondMsg(response)
}
