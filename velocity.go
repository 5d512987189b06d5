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
	"math"

	"github.com/pconstantinou/savitzkygolay"
	"gonum.org/v1/gonum/floats"
)

// smoothWindow is the Savitzky-Golay window used by the precise velocity
// estimator. Segments shorter than this fall back to finite differences.
const smoothWindow = 9

// velocityComputer derives per-sample velocity in degrees/second between
// consecutive valid samples of the same eye. Two estimators are available:
// a fast central finite difference and a smoothed first-derivative
// Savitzky-Golay filter.
type velocityComputer struct {
	cs     CoordSystem
	fast   bool
	filter savitzkygolay.Filter

	// peak velocity observed across the run, surfaced in the Summary
	peak float64
}

func newVelocityComputer(o *Options) (*velocityComputer, error) {
	vc := &velocityComputer{
		cs:   o.Geometry.SampleType,
		fast: o.Selection.FastVelocity,
		peak: math.NaN(),
	}
	if !vc.fast {
		f, err := savitzkygolay.NewFilter(smoothWindow, 1, 2)
		if err != nil {
			return nil, fmt.Errorf("error building velocity filter: %w", err)
		}
		vc.filter = f
	}
	return vc, nil
}

// ProcessRun fills in Vel for every sample of one contiguous run. Velocity
// at run boundaries or adjacent to a missing-value sample stays missing;
// it is never zero and never extrapolated.
func (vc *velocityComputer) ProcessRun(run []*Sample) {
	for eye := LeftEye; eye <= RightEye; eye++ {
		vc.processEye(run, eye)
	}
}

func (vc *velocityComputer) processEye(run []*Sample, eye Eye) {
	// Split into maximal segments of consecutive samples with a usable
	// position in degrees; everything else keeps the missing sentinel.
	start := -1
	for i := 0; i <= len(run); i++ {
		ok := false
		if i < len(run) {
			_, ok = vc.toDegrees(run[i], eye)
		}
		if ok && start < 0 {
			start = i
		}
		if !ok && start >= 0 {
			vc.processSegment(run[start:i], eye)
			start = -1
		}
	}
}

func (vc *velocityComputer) processSegment(seg []*Sample, eye Eye) {
	if len(seg) < 3 {
		return // endpoints stay missing, nothing in between
	}

	xs := make([]float64, len(seg))
	ys := make([]float64, len(seg))
	ts := make([]float64, len(seg))
	for i, s := range seg {
		deg, _ := vc.toDegrees(s, eye)
		xs[i] = deg.X
		ys[i] = deg.Y
		ts[i] = s.T / 1000 // seconds
	}

	var vx, vy []float64
	if vc.fast || len(seg) < smoothWindow {
		vx = centralDiff(xs, ts)
		vy = centralDiff(ys, ts)
	} else {
		var err error
		vx, err = vc.filter.Process(xs, ts)
		if err == nil {
			vy, err = vc.filter.Process(ys, ts)
		}
		if err != nil {
			vx = centralDiff(xs, ts)
			vy = centralDiff(ys, ts)
		}
	}

	for i := 1; i < len(seg)-1; i++ {
		seg[i].Eyes[eye].Vel = Pair{vx[i], vy[i]}
	}

	if len(seg) > 2 {
		mags := make([]float64, 0, len(seg)-2)
		for i := 1; i < len(seg)-1; i++ {
			mags = append(mags, math.Hypot(vx[i], vy[i]))
		}
		if p := floats.Max(mags); math.IsNaN(vc.peak) || p > vc.peak {
			vc.peak = p
		}
	}
}

// centralDiff is the fast estimator: a two-neighbor finite difference.
// The first and last points have no defined velocity.
func centralDiff(vals, ts []float64) []float64 {
	out := make([]float64, len(vals))
	out[0] = Missing
	out[len(out)-1] = Missing
	for i := 1; i < len(vals)-1; i++ {
		dt := ts[i+1] - ts[i-1]
		if dt <= 0 {
			out[i] = Missing
			continue
		}
		out[i] = (vals[i+1] - vals[i-1]) / dt
	}
	return out
}

// toDegrees converts a sample's position in the output coordinate space
// into degrees of visual angle. The second result is false when the
// position (or, for gaze, the resolution) is missing.
func (vc *velocityComputer) toDegrees(s *Sample, eye Eye) (Pair, bool) {
	pos := selectPair(s.Eyes[eye].Pos, vc.cs)
	if pos.IsMissing() {
		return MissingPair(), false
	}
	switch vc.cs {
	case Gaze:
		if s.Res.IsMissing() || s.Res.X <= 0 || s.Res.Y <= 0 {
			return MissingPair(), false
		}
		return Pair{pos.X / s.Res.X, pos.Y / s.Res.Y}, true
	case Href:
		const radToDeg = 180 / math.Pi
		return Pair{
			math.Atan(pos.X/hrefUnitsPerTan) * radToDeg,
			math.Atan(pos.Y/hrefUnitsPerTan) * radToDeg,
		}, true
	default:
		// Pupil coordinates have no angular calibration; velocity is
		// reported in raw units per second.
		return pos, true
	}
}

// PeakVelocity returns the largest velocity magnitude seen, or NaN when
// none was computed.
func (vc *velocityComputer) PeakVelocity() float64 { return vc.peak }
