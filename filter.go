// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The edf2asc authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf2asc

import "strings"

// viewerCommandPrefix marks embedded viewer-control messages.
const viewerCommandPrefix = "!V"

// largeTimestampJump is the forward jump, in milliseconds, beyond which
// consecutive record times are considered suspect.
const largeTimestampJump = 1e7

// interval is a closed time range covered by contiguous valid samples.
type interval struct {
	start, end float64
}

// filterEngine decides, per record, whether it is emitted, and accumulates
// the diagnostic counters surfaced at end of run.
type filterEngine struct {
	o   *Options
	sum *Summary

	lastTime    float64
	haveTime    bool
	nominalStep float64 // ms between samples, from the recording info

	// contiguous valid-sample coverage per eye, for the consistency check
	coverage [2][]interval
}

func newFilterEngine(o *Options, sum *Summary) *filterEngine {
	return &filterEngine{o: o, sum: sum, nominalStep: 1}
}

// Decide is the pure eligibility decision: a conjunction of the type-class,
// per-eye and global toggles. It reads only the configuration and the
// record, so repeated calls always agree.
func (f *filterEngine) Decide(rec Record) bool {
	sel := &f.o.Selection
	switch r := rec.(type) {
	case *Sample:
		return sel.Samples
	case *Fixation:
		if r.Start && !sel.StartEvents {
			return false
		}
		return f.eventEyeEnabled(r.Eye)
	case *Saccade:
		if r.Start && !sel.StartEvents {
			return false
		}
		return f.eventEyeEnabled(r.Eye)
	case *Blink:
		if r.Start && !sel.StartEvents {
			return false
		}
		return f.eventEyeEnabled(r.Eye)
	case *Average:
		return sel.Averages && f.eventEyeEnabled(r.Eye)
	case *Message:
		if !sel.MsgEvents {
			return false
		}
		if sel.HideViewerCommands && strings.HasPrefix(r.Text, viewerCommandPrefix) {
			return false
		}
		return true
	case *Button:
		return sel.Events
	case *Input:
		return sel.Events
	case *StartEvent:
		return sel.StartEvents
	case *EndEvent:
		return sel.StartEvents
	case *Marker:
		return sel.Markers && sel.HTarget
	case *RecordingInfo:
		return false // consumed by the transformer, never rendered
	case *Raw:
		return f.o.Diag.AllowRaw
	}
	return false
}

func (f *filterEngine) eventEyeEnabled(eye Eye) bool {
	sel := &f.o.Selection
	if !sel.Events || !sel.EyeEvents {
		return false
	}
	switch eye {
	case LeftEye:
		return sel.LeftEye && sel.EventLeft
	case RightEye:
		return sel.RightEye && sel.EventRight
	}
	return false
}

// Process observes one record, runs the diagnostic checks and returns
// whether the record is emitted. Dropped and warned records are counted
// in the Summary.
func (f *filterEngine) Process(rec Record) bool {
	f.sum.Records++

	f.checkTimestamp(rec)

	switch r := rec.(type) {
	case *Sample:
		f.checkPupil(r)
		f.observeSample(r)
	case *Message:
		if f.o.Selection.LogMessages {
			f.sum.LoggedMessages = append(f.sum.LoggedMessages, r.Text)
		}
	case *Raw:
		f.sum.RawRecords++
	}

	if !f.Decide(rec) {
		return false
	}

	if f.o.Diag.ConsistencyCheck {
		if bad, checkable := f.inconsistent(rec); checkable && bad {
			f.sum.ConsistencyWarnings++
			if f.o.Diag.Failsafe {
				f.sum.Dropped++
				return false
			}
		}
	}

	f.sum.Emitted++
	return true
}

func (f *filterEngine) checkTimestamp(rec Record) {
	if f.o.Diag.DisableLargeTimestampCheck {
		return
	}
	t := rec.Time()
	if IsMissing(t) {
		return
	}
	if f.haveTime && (t < f.lastTime || t-f.lastTime > largeTimestampJump) {
		f.sum.TimestampWarnings++
	}
	f.lastTime = t
	f.haveTime = true
}

// checkPupil blanks implausible pupil sizes so downstream stages treat
// them as absent.
func (f *filterEngine) checkPupil(s *Sample) {
	if f.o.Diag.DisablePupilCheck {
		return
	}
	for i := range s.Eyes {
		ps := s.Eyes[i].PupilSize
		if IsMissing(ps) {
			continue
		}
		if ps <= 0 || ps > 20000 {
			s.Eyes[i].PupilSize = Missing
			f.sum.PupilWarnings++
		}
	}
}

// SetSampleRate updates the nominal inter-sample step used to detect
// coverage gaps.
func (f *filterEngine) SetSampleRate(hz float64) {
	if hz > 0 {
		f.nominalStep = 1000 / hz
	}
}

func (f *filterEngine) observeSample(s *Sample) {
	if !f.o.Diag.ConsistencyCheck {
		return
	}
	for eye := LeftEye; eye <= RightEye; eye++ {
		if !s.Valid(eye, f.o.Geometry.SampleType) {
			continue
		}
		cov := f.coverage[eye]
		if n := len(cov); n > 0 && s.T-cov[n-1].end <= 1.5*f.nominalStep {
			cov[n-1].end = s.T
		} else {
			cov = append(cov, interval{start: s.T, end: s.T})
		}
		f.coverage[eye] = cov
	}
}

// inconsistent reports whether an end event's declared start/end bracket
// fails to cover a contiguous sample run for the same eye. The second
// result is false for records the check does not apply to.
func (f *filterEngine) inconsistent(rec Record) (bad, checkable bool) {
	var (
		eye          Eye
		stime, etime float64
	)
	switch r := rec.(type) {
	case *Fixation:
		if r.Start {
			return false, false
		}
		eye, stime, etime = r.Eye, r.STime, r.ETime
	case *Saccade:
		if r.Start {
			return false, false
		}
		eye, stime, etime = r.Eye, r.STime, r.ETime
	case *Blink:
		// A blink is exactly a gap in valid samples; bracketing does
		// not apply.
		return false, false
	default:
		return false, false
	}

	tol := f.nominalStep / 2
	for _, iv := range f.coverage[eye] {
		if iv.start-tol <= stime && iv.end+tol >= etime {
			return false, true
		}
	}
	return true, true
}
