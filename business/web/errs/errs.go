// Package errs carries the errors handlers return to clients.
package errs

import "errors"

// Response is the body written for a failed request. Fields is set only for
// payload validation failures.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted is an error whose message is safe to show the client, paired with
// the status code to answer with.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted marks err as safe to return to the client with status.
func NewTrusted(err error, status int) error {
	return &Trusted{Err: err, Status: status}
}

func (te *Trusted) Error() string {
	return te.Err.Error()
}

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (te *Trusted) Unwrap() error {
	return te.Err
}

// AsTrusted finds the first Trusted error in the chain.
func AsTrusted(err error) (*Trusted, bool) {
	var te *Trusted
	if !errors.As(err, &te) {
		return nil, false
	}
	return te, true
}
