package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrValidation         = fmt.Errorf("validation failed")
	ErrForbidden          = fmt.Errorf("forbidden")
	ErrEditWindowExpired  = fmt.Errorf("edit window expired")
	ErrNotFound           = fmt.Errorf("not found")
	ErrStorage            = fmt.Errorf("storage failure")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidPassword    = fmt.Errorf("invalid password")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")
	ErrUnauthenticated    = fmt.Errorf("unauthenticated")
	ErrInvalidPayload     = fmt.Errorf("invalid payload")
	ErrUnknownEvent       = fmt.Errorf("unknown event")
	ErrSinkFull           = fmt.Errorf("sink buffer full")
	ErrSinkClosed         = fmt.Errorf("sink closed")
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrEmptyWords         = fmt.Errorf("no words have been found")
)

// Transport error codes sent back in error events.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeForbidden         = "FORBIDDEN"
	CodeEditWindowExpired = "EDIT_WINDOW_EXPIRED"
	CodeNotFound          = "NOT_FOUND"
	CodeStorage           = "STORAGE_ERROR"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeInternal          = "INTERNAL"
)

type mapping struct {
	err      error
	code     string
	grpcCode codes.Code
	http     int
}

// Order matters: the first match wins.
var mappings = []mapping{
	{ErrInvalidPayload, CodeValidation, codes.InvalidArgument, http.StatusBadRequest},
	{ErrUnknownEvent, CodeValidation, codes.InvalidArgument, http.StatusBadRequest},
	{ErrValidation, CodeValidation, codes.InvalidArgument, http.StatusBadRequest},
	{ErrInvalidPassword, CodeValidation, codes.InvalidArgument, http.StatusBadRequest},
	{ErrForbidden, CodeForbidden, codes.PermissionDenied, http.StatusForbidden},
	{ErrEditWindowExpired, CodeEditWindowExpired, codes.FailedPrecondition, http.StatusConflict},
	{ErrNotFound, CodeNotFound, codes.NotFound, http.StatusNotFound},
	{ErrUserAlreadyExists, CodeValidation, codes.AlreadyExists, http.StatusConflict},
	{ErrInvalidCredentials, CodeUnauthenticated, codes.Unauthenticated, http.StatusUnauthorized},
	{ErrUnauthenticated, CodeUnauthenticated, codes.Unauthenticated, http.StatusUnauthorized},
	{ErrStorage, CodeStorage, codes.Unavailable, http.StatusServiceUnavailable},
}

func lookup(err error) (mapping, bool) {
	for _, m := range mappings {
		if stderrors.Is(err, m.err) {
			return m, true
		}
	}
	return mapping{}, false
}

// Code returns the transport error code for err.
func Code(err error) string {
	if m, ok := lookup(err); ok {
		return m.code
	}
	return CodeInternal
}

// MapToGRPCError converts a domain error into a gRPC status error.
func MapToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if m, ok := lookup(err); ok {
		return status.Error(m.grpcCode, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

// MapToHTTPStatus converts a domain error into an HTTP status code.
func MapToHTTPStatus(err error) int {
	if m, ok := lookup(err); ok {
		return m.http
	}
	return http.StatusInternalServerError
}

// Is and As let callers import a single errors package.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}
