package service

import "errors"

var (
	// ErrServiceNotFound indicates the domain/name pair is not registered.
	ErrServiceNotFound = errors.New("service: service not found")

	// ErrIllegalResponse indicates the caller's response expectation does
	// not match the service's response mode.
	ErrIllegalResponse = errors.New("service: illegal response expectation")
)
