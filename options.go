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
	"fmt"
	"strconv"
	"strings"
)

// CoordSystem selects the coordinate space rendered into the output.
type CoordSystem uint8

const (
	Gaze CoordSystem = iota
	Href
	Pupil
)

func (c CoordSystem) String() string {
	switch c {
	case Gaze:
		return "GAZE"
	case Href:
		return "HREF"
	default:
		return "PUPIL"
	}
}

// Rect is a screen rectangle in L, T, R, B order. The physical rectangle
// uses millimeters with +y up (T > B); the pixel rectangle uses pixels
// with +y down (T < B).
type Rect struct {
	L, T, R, B float64
}

// Degenerate reports whether the rectangle has zero width or height and
// therefore cannot define a mapping.
func (r Rect) Degenerate() bool {
	return r.R == r.L || r.B == r.T
}

// SelectionOptions decide which record classes, eyes and optional field
// groups are emitted.
type SelectionOptions struct {
	Events      bool // gaze events (fixations, saccades, blinks)
	Samples     bool
	StartEvents bool // SFIX/SSACC/SBLINK and START lines
	MsgEvents   bool
	EyeEvents   bool // per-eye event classes; false drops fix/sacc/blink only
	Averages    bool // fixation-update (FIXUPDATE) records
	Markers     bool // head-target marker records and columns

	LeftEye  bool // global per-eye gate
	RightEye bool

	EventLeft   bool
	EventRight  bool
	SampleLeft  bool
	SampleRight bool

	SampleVelocity bool
	FastVelocity   bool
	Resolution     bool

	InputValues  bool
	ButtonValues bool

	HTarget            bool // permit head-target auxiliary fields
	HideViewerCommands bool // suppress embedded "!V" viewer-control messages
	LogMessages        bool // retain message texts in the Summary
}

// GeometryOptions define the coordinate transforms.
type GeometryOptions struct {
	SampleType CoordSystem
	EventType  CoordSystem

	ScreenPhys  Rect // millimeters, +y up
	ScreenPixel Rect // pixels, +y down

	SimScreenDistance    float64 // mm, eye to screen center
	SimScreenDistanceBot float64 // mm, bottom-mounted camera variant

	DefaultResX float64 // pixels/degree fallback when geometry cannot supply it
	DefaultResY float64
}

// FormatOptions control the textual rendering.
type FormatOptions struct {
	UseTabs   bool
	FloatTime bool
	UTF8BOM   bool
	SepRes    bool // resolution changes as their own RES lines
}

// DiagnosticOptions control the non-fatal checks and compatibility escapes.
type DiagnosticOptions struct {
	ConsistencyCheck           bool
	Failsafe                   bool // drop events that fail the consistency check
	DisableLargeTimestampCheck bool
	DisablePupilCheck          bool
	AllowRaw                   bool // pass unrecognized records through instead of aborting
}

// Options is the full configuration for one conversion run. It is
// read-only once handed to Convert and safe to share across concurrent
// pipelines.
type Options struct {
	Selection SelectionOptions
	Geometry  GeometryOptions
	Format    FormatOptions
	Diag      DiagnosticOptions
}

// DefaultOptions returns the legacy converter defaults: everything emitted,
// gaze coordinates, 700/760 mm simulation distances and the standard
// screen rectangles.
func DefaultOptions() Options {
	return Options{
		Selection: SelectionOptions{
			Events:      true,
			Samples:     true,
			StartEvents: true,
			MsgEvents:   true,
			EyeEvents:   true,
			LeftEye:     true,
			RightEye:    true,
			EventLeft:   true,
			EventRight:  true,
			SampleLeft:  true,
			SampleRight: true,
		},
		Geometry: GeometryOptions{
			SampleType:           Gaze,
			EventType:            Gaze,
			ScreenPhys:           Rect{L: -200, T: 150, R: 200, B: -150},
			ScreenPixel:          Rect{L: 0, T: 0, R: 1023, B: 767},
			SimScreenDistance:    700,
			SimScreenDistanceBot: 760,
		},
		Format: FormatOptions{},
		Diag:   DiagnosticOptions{},
	}
}

// Validate checks the configuration before any record is processed.
// A failure here is a ConfigurationError; the pipeline refuses to start.
func (o *Options) Validate() error {
	g := &o.Geometry
	needGaze := (o.Selection.Samples && g.SampleType == Gaze) ||
		(o.Selection.Events && g.EventType == Gaze)
	if needGaze {
		if g.ScreenPhys.Degenerate() {
			return &ConfigurationError{Reason: fmt.Sprintf(
				"degenerate physical screen rectangle %+v", g.ScreenPhys)}
		}
		if g.ScreenPixel.Degenerate() {
			return &ConfigurationError{Reason: fmt.Sprintf(
				"degenerate pixel screen rectangle %+v", g.ScreenPixel)}
		}
		if g.ScreenPhys.L >= g.ScreenPhys.R {
			return &ConfigurationError{Reason: "physical screen left must be less than right"}
		}
		if g.ScreenPhys.B >= g.ScreenPhys.T {
			return &ConfigurationError{Reason: "physical screen bottom must be less than top"}
		}
		if g.ScreenPixel.L >= g.ScreenPixel.R {
			return &ConfigurationError{Reason: "pixel screen left must be less than right"}
		}
		if g.ScreenPixel.T >= g.ScreenPixel.B {
			return &ConfigurationError{Reason: "pixel screen top must be less than bottom"}
		}
	}
	needHref := (o.Selection.Samples && g.SampleType == Href) ||
		(o.Selection.Events && g.EventType == Href)
	if needHref && (g.SimScreenDistance <= 0 || g.SimScreenDistanceBot <= 0) {
		return &ConfigurationError{Reason: "HREF output requires positive simulation screen distances"}
	}
	if !o.Selection.LeftEye && !o.Selection.RightEye {
		return &ConfigurationError{Reason: "no eye selected for output"}
	}
	if !o.Selection.Samples && !o.Selection.Events && !o.Selection.MsgEvents {
		return &ConfigurationError{Reason: "no record class selected for output"}
	}
	if o.Diag.Failsafe && !o.Diag.ConsistencyCheck {
		return &ConfigurationError{Reason: "failsafe requires the consistency check"}
	}
	return nil
}

// ParseDisplayCoords resolves an "L T R B" rectangle string, as found in
// DISPLAY_COORDS messages and on the command line, into a Rect.
func ParseDisplayCoords(s string) (Rect, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 4 {
		return Rect{}, fmt.Errorf("expected 4 coordinates, got %d in %q", len(fields), s)
	}
	var vals [4]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSuffix(f, ","), 64)
		if err != nil {
			return Rect{}, fmt.Errorf("error parsing coordinate %q: %w", f, err)
		}
		vals[i] = v
	}
	return Rect{L: vals[0], T: vals[1], R: vals[2], B: vals[3]}, nil
}
