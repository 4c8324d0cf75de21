package identity

import "strings"

// ResultError is one coded reason a store write did not succeed.
type ResultError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Result reports the outcome of Create, Update and Delete.
type Result struct {
	Succeeded bool          `json:"succeeded"`
	Errors    []ResultError `json:"errors,omitempty"`
}

// Success is the result of a write that committed.
var Success = Result{Succeeded: true}

// Failed builds an unsuccessful result.
func Failed(errs ...ResultError) Result {
	return Result{Errors: errs}
}

// Has reports whether the result carries an error with code.
func (r Result) Has(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func (r Result) String() string {
	if r.Succeeded {
		return "Succeeded"
	}
	codes := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		codes = append(codes, e.Code)
	}
	return "Failed: " + strings.Join(codes, ",")
}

// Error codes produced by DefaultErrorDescriber.
const (
	CodeConcurrencyFailure = "ConcurrencyFailure"
	CodeDefaultError       = "DefaultError"
)

// ErrorDescriber builds the errors carried by failed results. A store holds
// exactly one describer for its lifetime.
type ErrorDescriber interface {
	ConcurrencyFailure() ResultError
	DefaultError() ResultError
}

// DefaultErrorDescriber returns English descriptions.
type DefaultErrorDescriber struct{}

func (DefaultErrorDescriber) ConcurrencyFailure() ResultError {
	return ResultError{
		Code:        CodeConcurrencyFailure,
		Description: "Optimistic concurrency failure, object has been modified.",
	}
}

func (DefaultErrorDescriber) DefaultError() ResultError {
	return ResultError{
		Code:        CodeDefaultError,
		Description: "An unknown failure has occurred.",
	}
}
