package identity

import (
	"errors"
	"strings"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

var (
	// ErrInvalidArgument is matched by every *ArgumentError.
	ErrInvalidArgument = errors.New("identity: invalid argument")
	// ErrInvalidOperation is returned when a referenced role does not exist.
	ErrInvalidOperation = errors.New("identity: invalid operation")
	// ErrDisposed is returned by every call made after Close.
	ErrDisposed = errors.New("identity: store disposed")
)

// ArgumentError names the parameter that was nil, empty or blank.
type ArgumentError struct {
	Param string
}

func (e *ArgumentError) Error() string {
	return "identity: invalid argument: " + e.Param
}

// Is reports ErrInvalidArgument as a match.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func requireText(param, v string) error {
	if strings.TrimSpace(v) == "" {
		return &ArgumentError{Param: param}
	}
	return nil
}

func requireAccount(a *entity.Account) error {
	if a == nil {
		return &ArgumentError{Param: "user"}
	}
	return nil
}

func requireRole(r *entity.Role) error {
	if r == nil {
		return &ArgumentError{Param: "role"}
	}
	return nil
}
