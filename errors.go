// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The edf2asc authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf2asc

import "fmt"

// DecodeReason classifies fatal per-file decode failures.
type DecodeReason uint8

const (
	UnexpectedEOF DecodeReason = iota
	BadMagic
	CorruptRecord
)

func (r DecodeReason) String() string {
	switch r {
	case UnexpectedEOF:
		return "unexpected EOF"
	case BadMagic:
		return "bad magic"
	default:
		return "corrupt record"
	}
}

// DecodeError aborts the current file's conversion. Output flushed before
// the failure is left intact.
type DecodeError struct {
	Reason DecodeReason
	Offset int64 // byte offset of the failing record
	Kind   Kind  // record kind when known
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s at offset %d: %v", e.Reason, e.Offset, e.Err)
	}
	return fmt.Sprintf("decode: %s at offset %d", e.Reason, e.Offset)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConfigurationError is raised before any record is processed when the
// configuration cannot define a requested transform or selects nothing.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}
