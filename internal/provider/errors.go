package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class buckets provider failures so chains and readiness can reason about them.
type Class string

const (
	ClassAuth        Class = "auth"
	ClassQuota       Class = "quota"
	ClassNotFound    Class = "not_found"
	ClassTimeout     Class = "timeout"
	ClassCanceled    Class = "canceled"
	ClassMalformed   Class = "malformed"
	ClassUnavailable Class = "unavailable"
	ClassOther       Class = "other"
)

const maxErrorBody = 512

// Error is returned by adapters for failures the remote side reported.
type Error struct {
	Provider string
	Status   int
	Class    Class
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError builds an Error from a non-2xx HTTP response.
func StatusError(provider string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		msg = "empty body"
	}
	return &Error{
		Provider: provider,
		Status:   status,
		Class:    classifyStatus(status, msg),
		Err:      errors.New(msg),
	}
}

// Malformed marks a response that arrived but could not be used.
func Malformed(provider string, err error) error {
	return &Error{Provider: provider, Class: ClassMalformed, Err: err}
}

func classifyStatus(status int, body string) Class {
	switch {
	case status == 401 || status == 403:
		return ClassAuth
	case status == 402 || status == 429:
		return ClassQuota
	case status == 404:
		return ClassNotFound
	case status == 408 || status == 504:
		return ClassTimeout
	case status >= 500:
		return ClassUnavailable
	}
	lower := strings.ToLower(body)
	if strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit") {
		return ClassQuota
	}
	return ClassOther
}

// Classify maps any adapter error onto a Class.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Class != "" {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTimeout
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return ClassUnavailable
	}
	return ClassOther
}
