// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The edf2asc authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf2asc

import "math"

// hrefUnitsPerTan is the HREF scale: href coordinates are 15000 times the
// tangent of the gaze angle, i.e. units of roughly 1/15 degree.
const hrefUnitsPerTan = 15000.0

// selectPair picks the position in the requested coordinate space.
func selectPair(p PosSet, cs CoordSystem) Pair {
	switch cs {
	case Gaze:
		return p.Gaze
	case Href:
		return p.Href
	default:
		return p.Pupil
	}
}

// Transformer maps decoded device coordinates into the configured output
// space and resolves per-record resolution. It carries only per-run state
// derived from the record stream (the camera mount position); the
// configuration is read-only.
type Transformer struct {
	geom         *GeometryOptions
	wantRes      bool
	wantVel      bool
	cameraBottom bool
}

func newTransformer(o *Options) *Transformer {
	return &Transformer{
		geom:    &o.Geometry,
		wantRes: o.Selection.Resolution,
		wantVel: o.Selection.SampleVelocity,
	}
}

// Apply transforms one record in place as it flows through the pipeline.
func (t *Transformer) Apply(rec Record) {
	switch r := rec.(type) {
	case *RecordingInfo:
		t.cameraBottom = r.CameraBottom
	case *Sample:
		// Velocity needs pixels per degree even when resolution columns
		// are not requested.
		if t.wantRes || t.wantVel {
			r.Res = t.ResolveRes(r)
		}
		for i := range r.Eyes {
			r.Eyes[i].Pos = t.transformPos(r.Eyes[i].Pos, t.geom.SampleType)
		}
	case *Fixation:
		r.Res = t.eventRes(r.Res, r.Avg)
		r.Avg = t.transformPos(r.Avg, t.geom.EventType)
	case *Saccade:
		r.Res = t.eventRes(r.Res, r.StartPos)
		r.StartPos = t.transformPos(r.StartPos, t.geom.EventType)
		r.EndPos = t.transformPos(r.EndPos, t.geom.EventType)
	case *Average:
		r.Avg = t.transformPos(r.Avg, t.geom.EventType)
	case *EndEvent:
		if r.Res.IsMissing() && t.wantRes {
			r.Res = Pair{t.geom.DefaultResX, t.geom.DefaultResY}
			if r.Res.X <= 0 || r.Res.Y <= 0 {
				r.Res = MissingPair()
			}
		}
	}
}

// eventRes fills a missing event resolution from the geometry at the
// event's position, falling back to the configured defaults.
func (t *Transformer) eventRes(res Pair, pos PosSet) Pair {
	if !t.wantRes || !res.IsMissing() {
		return res
	}
	if pos.Gaze.IsMissing() {
		return MissingPair()
	}
	if r := t.geometryRes(pos.Gaze); !r.IsMissing() {
		return r
	}
	if t.geom.DefaultResX > 0 && t.geom.DefaultResY > 0 {
		return Pair{t.geom.DefaultResX, t.geom.DefaultResY}
	}
	return MissingPair()
}

// transformPos rewrites the space selected for output; the other spaces
// pass through untouched.
func (t *Transformer) transformPos(p PosSet, cs CoordSystem) PosSet {
	switch cs {
	case Gaze:
		p.Gaze = t.physToPixel(p.Gaze)
	case Href:
		if p.Href.IsMissing() {
			p.Href = t.hrefFromPhys(p.Gaze)
		}
	}
	return p
}

// physToPixel applies the physical-screen-to-pixel-screen affine mapping.
// Coordinates outside the physical rectangle are extrapolated, never
// clamped, to match legacy behavior.
func (t *Transformer) physToPixel(p Pair) Pair {
	if p.IsMissing() {
		return MissingPair()
	}
	phys, pix := t.geom.ScreenPhys, t.geom.ScreenPixel
	if phys.Degenerate() || pix.Degenerate() {
		return MissingPair()
	}
	// Physical y grows upward, pixel y grows downward.
	return Pair{
		X: pix.L + (p.X-phys.L)*(pix.R-pix.L)/(phys.R-phys.L),
		Y: pix.T + (phys.T-p.Y)*(pix.B-pix.T)/(phys.T-phys.B),
	}
}

// pixelToPhys is the inverse affine mapping.
func (t *Transformer) pixelToPhys(p Pair) Pair {
	if p.IsMissing() {
		return MissingPair()
	}
	phys, pix := t.geom.ScreenPhys, t.geom.ScreenPixel
	if phys.Degenerate() || pix.Degenerate() {
		return MissingPair()
	}
	return Pair{
		X: phys.L + (p.X-pix.L)*(phys.R-phys.L)/(pix.R-pix.L),
		Y: phys.T - (p.Y-pix.T)*(phys.T-phys.B)/(pix.B-pix.T),
	}
}

// distance selects the simulation screen distance for the current camera
// geometry.
func (t *Transformer) distance() float64 {
	if t.cameraBottom {
		return t.geom.SimScreenDistanceBot
	}
	return t.geom.SimScreenDistance
}

// hrefFromPhys converts a physical screen position into head-referenced
// angle units using the simulation screen distance.
func (t *Transformer) hrefFromPhys(p Pair) Pair {
	dist := t.distance()
	if p.IsMissing() || dist <= 0 {
		return MissingPair()
	}
	return Pair{
		X: hrefUnitsPerTan * p.X / dist,
		Y: hrefUnitsPerTan * p.Y / dist,
	}
}

// ResolveRes determines the resolution (pixels per degree) for a sample:
// the file-carried value when present, otherwise the value implied by the
// screen geometry at the sample's position, otherwise the configured
// defaults. A sample with a missing position yields a missing resolution;
// it is never computed from the sentinel.
func (t *Transformer) ResolveRes(s *Sample) Pair {
	if !s.Res.IsMissing() {
		return s.Res
	}
	pos := firstValidGaze(s)
	if pos.IsMissing() {
		return MissingPair()
	}
	if r := t.geometryRes(pos); !r.IsMissing() {
		return r
	}
	if t.geom.DefaultResX > 0 && t.geom.DefaultResY > 0 {
		return Pair{t.geom.DefaultResX, t.geom.DefaultResY}
	}
	return MissingPair()
}

func firstValidGaze(s *Sample) Pair {
	for i := range s.Eyes {
		if !s.Eyes[i].Pos.Gaze.IsMissing() {
			return s.Eyes[i].Pos.Gaze
		}
	}
	return MissingPair()
}

// geometryRes computes pixels per degree at a physical screen position
// from the affine mapping and the simulation distance. A degenerate
// rectangle yields a missing pair rather than failing the run.
func (t *Transformer) geometryRes(phys Pair) Pair {
	g := t.geom
	dist := t.distance()
	if g.ScreenPhys.Degenerate() || g.ScreenPixel.Degenerate() || dist <= 0 {
		return MissingPair()
	}
	sx := (g.ScreenPixel.R - g.ScreenPixel.L) / (g.ScreenPhys.R - g.ScreenPhys.L)
	sy := (g.ScreenPixel.B - g.ScreenPixel.T) / (g.ScreenPhys.T - g.ScreenPhys.B)
	// d(dist*tan(a))/da = dist*(1+tan^2(a)), converted to per-degree.
	const perDeg = math.Pi / 180
	return Pair{
		X: math.Abs(sx) * dist * (1 + (phys.X/dist)*(phys.X/dist)) * perDeg,
		Y: math.Abs(sy) * dist * (1 + (phys.Y/dist)*(phys.Y/dist)) * perDeg,
	}
}
