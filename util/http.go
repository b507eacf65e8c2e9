package util

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrSendFailed is returned when the request could not be created or sent
	ErrSendFailed = errors.New("sending failed")
	// ErrResponseReadFail is returned when the response to the request could not be read
	ErrResponseReadFail = errors.New("failed to read response")
	// ErrBadResponse is returned when the request did not receive a 2** response
	ErrBadResponse = errors.New("bad response")
)

// SendTimeout bounds a whole request made by SendMsg. Submitted runs
// execute before the response is written.
var SendTimeout = time.Minute

// RequestOption can be used to modify the request that is to be sent
type RequestOption func(*http.Request)

// JsonRequest sets the content type to application/json
func JsonRequest() RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Content-Type", "application/json")
	}
}

// YamlRequest sets the content type to application/yaml
func YamlRequest() RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Content-Type", "application/yaml")
	}
}

// SendMsg sends msg to toAddr, a host:port with an optional path, and
// returns the body of a 2** response
func SendMsg(method, toAddr, msg string, options ...RequestOption) (string, error) {
	client := &http.Client{Timeout: SendTimeout}
	req, err := http.NewRequest(method, "http://"+toAddr, bytes.NewBufferString(msg))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSendFailed, err)
	}
	for _, o := range options {
		o(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ErrResponseReadFail
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s %s", ErrBadResponse, resp.Status, bytes.TrimSpace(body))
	}
	return string(body), nil
}
