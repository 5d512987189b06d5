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
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Formatter renders accepted Records into ASC text lines. Field order,
// separators and the missing-value token are a compatibility contract
// with downstream ASC consumers.
type Formatter struct {
	w     *bufio.Writer
	o     *Options
	first bool

	lastRes Pair // last resolution emitted as a RES line
}

func newFormatter(o *Options, w io.Writer) *Formatter {
	return &Formatter{
		w:       bufio.NewWriter(w),
		o:       o,
		first:   true,
		lastRes: MissingPair(),
	}
}

// Flush flushes buffered lines to the output sink.
func (f *Formatter) Flush() error { return f.w.Flush() }

func (f *Formatter) sep() string {
	if f.o.Format.UseTabs {
		return "\t"
	}
	return " "
}

// time renders a timestamp: integer milliseconds, or one decimal when
// float time is selected.
func (f *Formatter) time(t float64) string {
	if IsMissing(t) {
		return MissingToken
	}
	if f.o.Format.FloatTime {
		return strconv.FormatFloat(t, 'f', 1, 64)
	}
	return strconv.FormatFloat(math.Trunc(t), 'f', 0, 64)
}

func num(v float64, prec int) string {
	if IsMissing(v) || math.IsNaN(v) {
		return MissingToken
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func (f *Formatter) line(fields ...string) error {
	if f.first {
		f.first = false
		if f.o.Format.UTF8BOM {
			if _, err := f.w.Write(utf8BOM); err != nil {
				return err
			}
		}
	}
	if _, err := f.w.WriteString(strings.Join(fields, f.sep())); err != nil {
		return err
	}
	return f.w.WriteByte('\n')
}

// Write renders one accepted record. Dual-eye samples produce a single
// line with both eyes' fields concatenated.
func (f *Formatter) Write(rec Record) error {
	switch r := rec.(type) {
	case *Sample:
		return f.writeSample(r)
	case *Fixation:
		return f.writeFixation(r)
	case *Saccade:
		return f.writeSaccade(r)
	case *Blink:
		return f.writeBlink(r)
	case *Average:
		return f.line("FIXUPDATE", r.Eye.String(), f.time(r.STime), f.time(r.ETime),
			f.dur(r.STime, r.ETime),
			num(selectPair(r.Avg, f.o.Geometry.EventType).X, 1),
			num(selectPair(r.Avg, f.o.Geometry.EventType).Y, 1),
			num(r.AvgPupil, 1))
	case *Message:
		return f.line("MSG", f.time(r.T), r.Text)
	case *Button:
		return f.line("BUTTON", f.time(r.T),
			strconv.Itoa(int(r.Button)), strconv.Itoa(int(r.State)))
	case *Input:
		return f.line("INPUT", f.time(r.T), strconv.Itoa(int(r.Value)))
	case *StartEvent:
		return f.writeStart(r)
	case *EndEvent:
		return f.writeEnd(r)
	case *Marker:
		fields := []string{"MARKER", f.time(r.T)}
		for _, h := range r.HData {
			fields = append(fields, strconv.Itoa(int(h)))
		}
		return f.line(fields...)
	case *Raw:
		return f.line("RAW", strconv.Itoa(int(r.Kind)), hex.EncodeToString(r.Payload))
	case *RecordingInfo:
		return nil // never rendered; the filter rejects these
	}
	return fmt.Errorf("unsupported record type %T", rec)
}

func (f *Formatter) dur(stime, etime float64) string {
	if IsMissing(stime) || IsMissing(etime) {
		return MissingToken
	}
	return f.time(etime - stime)
}

func (f *Formatter) sampleEyes() (left, right bool) {
	sel := &f.o.Selection
	return sel.LeftEye && sel.SampleLeft, sel.RightEye && sel.SampleRight
}

func (f *Formatter) writeSample(s *Sample) error {
	sel := &f.o.Selection
	cs := f.o.Geometry.SampleType
	left, right := f.sampleEyes()

	if sel.Resolution && f.o.Format.SepRes && s.Res != f.lastRes {
		if err := f.line("RES", f.time(s.T), num(s.Res.X, 2), num(s.Res.Y, 2)); err != nil {
			return err
		}
		f.lastRes = s.Res
	}

	fields := []string{f.time(s.T)}
	appendEye := func(eye Eye) {
		pos := selectPair(s.Eyes[eye].Pos, cs)
		fields = append(fields, num(pos.X, 1), num(pos.Y, 1), num(s.Eyes[eye].PupilSize, 1))
	}
	if left {
		appendEye(LeftEye)
	}
	if right {
		appendEye(RightEye)
	}
	if sel.SampleVelocity {
		if left {
			fields = append(fields, num(s.Eyes[LeftEye].Vel.X, 1), num(s.Eyes[LeftEye].Vel.Y, 1))
		}
		if right {
			fields = append(fields, num(s.Eyes[RightEye].Vel.X, 1), num(s.Eyes[RightEye].Vel.Y, 1))
		}
	}
	if sel.Resolution && !f.o.Format.SepRes {
		fields = append(fields, num(s.Res.X, 2), num(s.Res.Y, 2))
	}
	if sel.InputValues {
		if s.HasInput {
			fields = append(fields, strconv.Itoa(int(s.Input)))
		} else {
			fields = append(fields, MissingToken)
		}
	}
	if sel.ButtonValues {
		if s.HasButtons {
			fields = append(fields, strconv.Itoa(int(s.Buttons)))
		} else {
			fields = append(fields, MissingToken)
		}
	}
	if sel.HTarget && s.HasHead {
		for _, h := range s.HData {
			fields = append(fields, strconv.Itoa(int(h)))
		}
	}
	return f.line(fields...)
}

func (f *Formatter) writeFixation(r *Fixation) error {
	if r.Start {
		return f.line("SFIX", r.Eye.String(), f.time(r.STime))
	}
	cs := f.o.Geometry.EventType
	avg := selectPair(r.Avg, cs)
	fields := []string{"EFIX", r.Eye.String(), f.time(r.STime), f.time(r.ETime),
		f.dur(r.STime, r.ETime), num(avg.X, 1), num(avg.Y, 1), num(r.AvgPupil, 1)}
	if f.o.Selection.Resolution {
		fields = append(fields, num(r.Res.X, 2), num(r.Res.Y, 2))
	}
	return f.line(fields...)
}

func (f *Formatter) writeSaccade(r *Saccade) error {
	if r.Start {
		return f.line("SSACC", r.Eye.String(), f.time(r.STime))
	}
	cs := f.o.Geometry.EventType
	start := selectPair(r.StartPos, cs)
	end := selectPair(r.EndPos, cs)
	fields := []string{"ESACC", r.Eye.String(), f.time(r.STime), f.time(r.ETime),
		f.dur(r.STime, r.ETime),
		num(start.X, 1), num(start.Y, 1), num(end.X, 1), num(end.Y, 1),
		num(f.amplitude(r), 2), num(r.PeakVel, 1)}
	if f.o.Selection.Resolution {
		fields = append(fields, num(r.Res.X, 2), num(r.Res.Y, 2))
	}
	return f.line(fields...)
}

// amplitude is the saccade's angular extent in degrees. It is derived
// from the start and end positions, so a missing endpoint or resolution
// yields a missing amplitude.
func (f *Formatter) amplitude(r *Saccade) float64 {
	cs := f.o.Geometry.EventType
	start := selectPair(r.StartPos, cs)
	end := selectPair(r.EndPos, cs)
	if start.IsMissing() || end.IsMissing() {
		return Missing
	}
	switch cs {
	case Gaze:
		if r.Res.IsMissing() || r.Res.X <= 0 || r.Res.Y <= 0 {
			return Missing
		}
		return math.Hypot((end.X-start.X)/r.Res.X, (end.Y-start.Y)/r.Res.Y)
	case Href:
		const radToDeg = 180 / math.Pi
		dx := (math.Atan(end.X/hrefUnitsPerTan) - math.Atan(start.X/hrefUnitsPerTan)) * radToDeg
		dy := (math.Atan(end.Y/hrefUnitsPerTan) - math.Atan(start.Y/hrefUnitsPerTan)) * radToDeg
		return math.Hypot(dx, dy)
	default:
		// Pupil coordinates carry no angular calibration.
		return Missing
	}
}

func (f *Formatter) writeBlink(r *Blink) error {
	if r.Start {
		return f.line("SBLINK", r.Eye.String(), f.time(r.STime))
	}
	return f.line("EBLINK", r.Eye.String(), f.time(r.STime), f.time(r.ETime),
		f.dur(r.STime, r.ETime))
}

func (f *Formatter) writeStart(r *StartEvent) error {
	fields := []string{"START", f.time(r.T)}
	if r.Eyes[LeftEye] {
		fields = append(fields, "L")
	}
	if r.Eyes[RightEye] {
		fields = append(fields, "R")
	}
	if r.Samples {
		fields = append(fields, "SAMPLES")
	}
	if r.Events {
		fields = append(fields, "EVENTS")
	}
	return f.line(fields...)
}

func (f *Formatter) writeEnd(r *EndEvent) error {
	fields := []string{"END", f.time(r.T)}
	if r.Samples {
		fields = append(fields, "SAMPLES")
	}
	if r.Events {
		fields = append(fields, "EVENTS")
	}
	fields = append(fields, "RES", num(r.Res.X, 2), num(r.Res.Y, 2))
	return f.line(fields...)
}
