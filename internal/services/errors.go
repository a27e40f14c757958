// Package services defines the business logic for the notification feed.
// This file centralizes common service-level error values so that they can
// be consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrMissingUser is returned when an operation arrives without a user
	// identity (the route layer should have rejected it already).
	ErrMissingUser = errors.New("user id is required")

	// ErrMissingNotification is returned when a mark-read call has no
	// notification id.
	ErrMissingNotification = errors.New("notification id is required")
)
