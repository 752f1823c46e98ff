// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import "errors"

// ErrFailedPrecondition is returned when an operation is attempted before
// Init has run.
var ErrFailedPrecondition = errors.New("store: not initialized")

// ErrNotFound is returned for an unknown conversation id.
var ErrNotFound = errors.New("store: conversation not found")

// StorageError wraps an underlying database/sql or driver error so callers
// can distinguish I/O failures from the sentinels above via errors.As,
// without leaking the driver's own error type.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }
