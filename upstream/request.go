package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

const (
	// contentType is the media type of a dns wire format message, RFC 8484 Section 6
	contentType = "application/dns-message"

	// maxResponseSize bounds the response body, a dns message never exceeds it
	maxResponseSize = 64 * 1024
)

// Forward post query verbatim to the resolver and return the response body.
// The returned error is always a *TransportError. Nothing is retried.
func (f *Forwarder) Forward(ctx context.Context, query []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.u.String(), bytes.NewReader(query))
	if err != nil {
		return nil, newError(ConnectFailed, errors.Wrap(err, "new request"))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer func() {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TransportError{Kind: HTTPStatus, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		if isTimeout(err) {
			return nil, newError(Timeout, err)
		}
		return nil, newError(BodyReadFailed, err)
	}

	if len(body) > maxResponseSize {
		return nil, newError(BodyReadFailed, errors.Errorf("response exceeds %d bytes", maxResponseSize))
	}

	return body, nil
}
