package roblox

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/orbit-workspaces/orbit/internal/retry"
)

// ErrNotFound is returned when the group service has no such group, role or user.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the group service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("group service returned status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus exposes the status code to retry.IsRateLimited.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Unwrap lets callers match ErrNotFound and retry.ErrRateLimited with errors.Is.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return retry.ErrRateLimited
	}
	return nil
}
