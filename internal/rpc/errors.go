package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/store"
)

// ErrorDomain is the ErrorInfo domain on every pactwatch status.
const ErrorDomain = "pactwatch"

// Reasons for storage failures. Protocol failures use their model.Code.
const (
	ReasonNotFound = "NotFound"
	ReasonExists   = "AlreadyExists"
	ReasonConflict = "Conflict"
	// ReasonRateLimited marks calls refused by per-signer rate limits.
	ReasonRateLimited = "RateLimited"
)

// RateLimited returns a ResourceExhausted status for a refused call.
func RateLimited(msg string) error {
	st := status.New(codes.ResourceExhausted, msg)
	withInfo, err := st.WithDetails(&errdetails.ErrorInfo{Reason: ReasonRateLimited, Domain: ErrorDomain})
	if err != nil {
		return st.Err()
	}
	return withInfo.Err()
}

// ToStatus converts an engine error to a gRPC status error carrying an
// ErrorInfo detail. nil stays nil.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var (
		c      codes.Code
		reason string
	)
	switch {
	case model.CodeOf(err) != "":
		code := model.CodeOf(err)
		c, reason = codeFor(code.Category()), string(code)
	case errors.Is(err, store.ErrNotFound):
		c, reason = codes.NotFound, ReasonNotFound
	case errors.Is(err, store.ErrExists):
		c, reason = codes.AlreadyExists, ReasonExists
	case errors.Is(err, store.ErrConflict):
		c, reason = codes.Aborted, ReasonConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}

	st := status.New(c, err.Error())
	withInfo, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: ErrorDomain})
	if derr != nil {
		return st.Err()
	}
	return withInfo.Err()
}

func codeFor(cat model.Category) codes.Code {
	switch cat {
	case model.CategoryAuthorization, model.CategoryScope:
		return codes.PermissionDenied
	case model.CategoryValidation:
		return codes.InvalidArgument
	case model.CategoryLifecycle, model.CategoryFunds:
		return codes.FailedPrecondition
	default:
		return codes.Unknown
	}
}

// FromStatus reverses ToStatus: protocol failures come back as *model.Error
// and storage failures wrap the store sentinels, so errors.Is works on both
// sides of the wire. Other errors pass through unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.Domain != ErrorDomain {
			continue
		}
		if code := model.Code(info.Reason); code.Known() {
			return &model.Error{Code: code, Detail: detailOf(code, st.Message())}
		}
		switch info.Reason {
		case ReasonNotFound:
			return fmt.Errorf("%s: %w", st.Message(), store.ErrNotFound)
		case ReasonExists:
			return fmt.Errorf("%s: %w", st.Message(), store.ErrExists)
		case ReasonConflict:
			return fmt.Errorf("%s: %w", st.Message(), store.ErrConflict)
		}
	}
	return err
}

// detailOf strips the "Code: " prefix model.Error adds to its message.
func detailOf(code model.Code, msg string) string {
	prefix := string(code) + ": "
	if len(msg) >= len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	if msg == string(code) {
		return ""
	}
	return msg
}
