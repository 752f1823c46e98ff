// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package broker

import "errors"

// Sentinel error taxonomy (spec.md §7), checked with errors.Is at the API
// layer. ParseError and Backpressure never escape the Session Runtime as Go
// errors — they surface as content blocks (KindError) or dropped-subscriber
// bookkeeping instead, so they have no sentinel here.
var (
	ErrAdapterUnavailable = errors.New("broker: adapter unavailable")
	ErrChildSpawnFailed   = errors.New("broker: child spawn failed")
	ErrChildCrashed       = errors.New("broker: child crashed")
	ErrNotFound           = errors.New("broker: conversation not found")
	ErrInvalidState       = errors.New("broker: invalid state for requested operation")
)
