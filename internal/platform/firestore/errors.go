package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errKind int

const (
	kindUnknown errKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// OpError classifies a failed Firestore operation so repositories can expose
// it through the repositories.RepositoryError contract.
type OpError struct {
	op   string
	kind errKind
	err  error
}

func (e *OpError) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the document does not exist.
func (e *OpError) IsNotFound() bool { return e != nil && e.kind == kindNotFound }

// IsConflict reports whether a precondition or concurrent write failed.
func (e *OpError) IsConflict() bool { return e != nil && e.kind == kindConflict }

// IsUnavailable reports whether the backend failed transiently.
func (e *OpError) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

func classify(code codes.Code) errKind {
	switch code {
	case codes.NotFound:
		return kindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return kindUnavailable
	}
	return kindUnknown
}

// wrapOp attaches the operation name and classification to err. Context
// cancellations pass through untouched so callers can errors.Is on them.
func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var opErr *OpError
	if errors.As(err, &opErr) {
		if op != "" && opErr.op == "" {
			opErr.op = op
		}
		return opErr
	}
	return &OpError{op: op, kind: classify(status.Code(err)), err: err}
}
