package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
)

type Kind uint8

const (
	ConnectFailed Kind = iota + 1
	TLSFailed
	Timeout
	HTTPStatus
	BodyReadFailed
)

var kindNames = map[Kind]string{
	ConnectFailed:  "connect failed",
	TLSFailed:      "tls failed",
	Timeout:        "timeout",
	HTTPStatus:     "http status",
	BodyReadFailed: "body read failed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// TransportError is the only error type returned by Forward.
type TransportError struct {
	Kind   Kind
	Status int // http status code, HTTPStatus only
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Kind == HTTPStatus:
		return fmt.Sprintf("%s %d", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is match another *TransportError of the same kind, and of the same status
// when target has one.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Status == 0 || t.Status == e.Status)
}

// KindOf return the kind of err, 0 when err is not a *TransportError
func KindOf(err error) Kind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

func newError(kind Kind, err error) *TransportError {
	return &TransportError{Kind: kind, Err: err}
}

// classify map an error of http.Client.Do to a TransportError
func classify(err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	if isTimeout(err) {
		return newError(Timeout, err)
	}

	if isTLS(err) {
		return newError(TLSFailed, err)
	}

	return newError(ConnectFailed, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTLS(err error) bool {
	var (
		verifyErr  *tls.CertificateVerificationError
		recordErr  tls.RecordHeaderError
		alertErr   tls.AlertError
		authErr    x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
		opErr      *net.OpError
	)

	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &authErr),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr):
		return true
	case errors.As(err, &opErr) && opErr.Op == "remote error":
		// tls alerts sent by the peer
		return true
	}

	return strings.Contains(err.Error(), "tls: ")
}
