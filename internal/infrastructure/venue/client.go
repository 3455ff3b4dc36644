package venue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// client talks JSON to one venue's execution sidecar.
type client struct {
	name    string
	baseURL string
	hc      *http.Client
}

func newClient(name, baseURL string, timeout time.Duration) *client {
	return &client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx reply from a sidecar. Its text keeps the status
// code so 5xx replies read as transient to the retry classifier.
type StatusError struct {
	Venue string
	Code  int
	Body  []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("venue %s http %d: %s", e.Venue, e.Code, strings.TrimSpace(string(e.Body)))
}

// message extracts the sidecar's own error field, when the body carries one.
func (e *StatusError) message() string {
	var body struct {
		Error string `json:"error"`
	}
	if sonic.Unmarshal(e.Body, &body) == nil {
		return body.Error
	}
	return ""
}

func (c *client) post(ctx context.Context, path string, in, out any) error {
	payload, err := sonic.ConfigFastest.Marshal(in)
	if err != nil {
		return fmt.Errorf("venue %s: encode %s request: %w", c.name, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Venue: c.name, Code: resp.StatusCode, Body: body}
	}
	if out == nil {
		return nil
	}
	if err := sonic.ConfigFastest.Unmarshal(body, out); err != nil {
		return fmt.Errorf("venue %s: decode %s reply: %w", c.name, req.URL.Path, err)
	}
	return nil
}

// failureText turns a sidecar error into outcome text the classifier can
// read. A 4xx with a message is the venue rejecting the order on its merits;
// everything else keeps the status code in the text.
func failureText(err error) string {
	var se *StatusError
	if errors.As(err, &se) && se.Code < 500 {
		if msg := se.message(); msg != "" {
			return msg
		}
	}
	return err.Error()
}
