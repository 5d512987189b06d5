// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The edf2asc authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf2asc

import (
	"io"
	"math"
)

// Summary is the structured diagnostics result of one conversion run.
// The pipeline never prints; the caller owns reporting.
type Summary struct {
	Records int // records decoded
	Emitted int // lines written
	Dropped int // records dropped by the failsafe

	ConsistencyWarnings int
	TimestampWarnings   int
	PupilWarnings       int
	RawRecords          int

	// PeakVelocity is the largest sample velocity magnitude in
	// degrees/second, or NaN when velocity was not computed.
	PeakVelocity float64

	// LoggedMessages holds message texts when log-message retention is
	// selected.
	LoggedMessages []string
}

// Convert runs one conversion job: it decodes the binary recording from r,
// applies the configured transforms, selection and formatting, and writes
// ASC text to w. The Options value is read-only for the duration of the
// run and may be shared across concurrent Convert calls.
//
// The returned Summary is valid even when an error is returned; output
// lines completed before a decode failure remain flushed and intact.
func Convert(o Options, r io.Reader, w io.Writer) (*Summary, error) {
	sum := &Summary{PeakVelocity: math.NaN()}

	if err := o.Validate(); err != nil {
		return sum, err
	}

	dec, err := NewReader(r, o.Diag.AllowRaw)
	if err != nil {
		return sum, err
	}

	tr := newTransformer(&o)
	fe := newFilterEngine(&o, sum)
	fm := newFormatter(&o, w)

	var vc *velocityComputer
	if o.Selection.SampleVelocity {
		vc, err = newVelocityComputer(&o)
		if err != nil {
			return sum, err
		}
	}

	emit := func(rec Record) error {
		if !fe.Process(rec) {
			return nil
		}
		return fm.Write(rec)
	}

	// With velocity enabled the stream is held back one sample run at a
	// time: the smoothed estimator needs the whole run, and emission
	// order must match file order.
	var (
		pending []Record
		run     []*Sample
	)
	flushRun := func() error {
		if vc != nil && len(run) > 0 {
			vc.ProcessRun(run)
		}
		for _, rec := range pending {
			if err := emit(rec); err != nil {
				return err
			}
		}
		pending = pending[:0]
		run = run[:0]
		return nil
	}

	for {
		rec, derr := dec.Next()
		if derr == io.EOF {
			break
		}
		if derr != nil {
			// Abort this file, but leave completed lines intact.
			if ferr := flushRun(); ferr != nil {
				return sum, ferr
			}
			if ferr := fm.Flush(); ferr != nil {
				return sum, ferr
			}
			return sum, derr
		}

		tr.Apply(rec)
		if ri, ok := rec.(*RecordingInfo); ok {
			fe.SetSampleRate(ri.SampleRate)
		}

		if vc == nil {
			if err := emit(rec); err != nil {
				return sum, err
			}
			continue
		}

		pending = append(pending, rec)
		switch r := rec.(type) {
		case *Sample:
			run = append(run, r)
		case *EndEvent:
			if r.Samples {
				if err := flushRun(); err != nil {
					return sum, err
				}
			}
		case *RecordingInfo:
			if err := flushRun(); err != nil {
				return sum, err
			}
		}
	}

	if err := flushRun(); err != nil {
		return sum, err
	}
	if err := fm.Flush(); err != nil {
		return sum, err
	}

	if vc != nil {
		sum.PeakVelocity = vc.PeakVelocity()
	}
	return sum, nil
}
