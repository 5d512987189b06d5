// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The edf2asc authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf2asc

// Kind identifies a record element on the wire. The codes match the
// EyeLink element type codes so converted files line up with legacy tools.
type Kind uint8

const (
	KindStartBlink    Kind = 3
	KindEndBlink      Kind = 4
	KindStartSaccade  Kind = 5
	KindEndSaccade    Kind = 6
	KindStartFixation Kind = 7
	KindEndFixation   Kind = 8
	KindFixUpdate     Kind = 9
	KindStartSamples  Kind = 15
	KindEndSamples    Kind = 16
	KindStartEvents   Kind = 17
	KindEndEvents     Kind = 18
	KindMessage       Kind = 24
	KindButton        Kind = 25
	KindInput         Kind = 28
	KindRecordingInfo Kind = 30
	KindMarker        Kind = 31
	KindSample        Kind = 200
)

// Missing is the reserved sentinel for "no measurement at this timestamp".
// Every derived value computed from a missing field is itself Missing.
const Missing = 1e8

// MissingToken is the exact spelling of Missing in ASC output. It is a
// compatibility contract with downstream ASC consumers.
const MissingToken = "1e8"

// IsMissing reports whether v carries the missing-value sentinel.
func IsMissing(v float64) bool {
	return v >= Missing
}

// Eye identifies which eye a sample field or event belongs to.
type Eye uint8

const (
	LeftEye   Eye = 0
	RightEye  Eye = 1
	Binocular Eye = 2
)

func (e Eye) String() string {
	switch e {
	case LeftEye:
		return "L"
	case RightEye:
		return "R"
	default:
		return "LR"
	}
}

// Per-sample field flags, one bit per field group present in a file's
// samples. Declared once in the stream header.
const (
	SampleLeft      uint16 = 0x8000
	SampleRight     uint16 = 0x4000
	SampleTimestamp uint16 = 0x2000
	SamplePupilXY   uint16 = 0x1000
	SampleHrefXY    uint16 = 0x0800
	SampleGazeXY    uint16 = 0x0400
	SampleGazeRes   uint16 = 0x0200
	SamplePupilSize uint16 = 0x0100
	SampleStatus    uint16 = 0x0080
	SampleInputs    uint16 = 0x0040
	SampleButtons   uint16 = 0x0020
	SampleHeadPos   uint16 = 0x0010
	SampleAddOffset uint16 = 0x0002 // adds 0.5 ms to the sample time
)

// Pair is an (x, y) coordinate or resolution pair.
type Pair struct {
	X, Y float64
}

// MissingPair is a Pair with both components absent.
func MissingPair() Pair { return Pair{Missing, Missing} }

// IsMissing reports whether either component is absent.
func (p Pair) IsMissing() bool { return IsMissing(p.X) || IsMissing(p.Y) }

// PosSet carries one position in all three source coordinate spaces.
// The transformer selects one of them per the configured output type.
type PosSet struct {
	Pupil Pair // raw pupil (camera) coordinates
	Href  Pair // head-referenced angle units (1/15 degree)
	Gaze  Pair // physical screen coordinates
}

// MissingPosSet is a PosSet with every space absent.
func MissingPosSet() PosSet {
	return PosSet{Pupil: MissingPair(), Href: MissingPair(), Gaze: MissingPair()}
}

// EyeSample is the per-eye portion of a Sample.
type EyeSample struct {
	Pos       PosSet
	PupilSize float64
	Vel       Pair // degrees/second, filled in by the velocity stage
}

// Record is one decoded element of an EDF stream. The concrete types below
// form a closed set; the filter and formatter switch exhaustively over them.
type Record interface {
	Time() float64
	record()
}

// Sample is one eye-tracker sample, possibly binocular.
type Sample struct {
	T       float64 // milliseconds
	Eyes    [2]EyeSample
	Res     Pair // pixels per degree, as carried in the file
	Input   uint16
	Buttons uint16
	Errors  uint16
	HType   int16
	HData   [8]int16

	HasInput   bool
	HasButtons bool
	HasHead    bool
}

// Valid reports whether the sample carries a usable position for the eye
// in the given coordinate space.
func (s *Sample) Valid(eye Eye, cs CoordSystem) bool {
	p := selectPair(s.Eyes[eye].Pos, cs)
	return !p.IsMissing()
}

// StartEvent marks the start of a sample and/or event block.
type StartEvent struct {
	T       float64
	Eyes    [2]bool // which eyes the block records
	Samples bool
	Events  bool
}

// EndEvent marks the end of a sample and/or event block.
type EndEvent struct {
	T       float64
	Samples bool
	Events  bool
	Res     Pair
}

// Fixation is a fixation event. Start is true for the bare start marker
// (which carries only the start time), false for the completed event.
type Fixation struct {
	Eye          Eye
	STime, ETime float64
	Start        bool
	Avg          PosSet
	AvgPupil     float64
	AvgVel       float64
	Res          Pair
}

// Saccade is a saccade event.
type Saccade struct {
	Eye          Eye
	STime, ETime float64
	Start        bool
	StartPos     PosSet
	EndPos       PosSet
	AvgVel       float64
	PeakVel      float64
	Res          Pair
}

// Blink is a blink event.
type Blink struct {
	Eye          Eye
	STime, ETime float64
	Start        bool
}

// Average is a fixation-update event: the running average position over the
// most recent update interval of an in-progress fixation.
type Average struct {
	Eye          Eye
	STime, ETime float64
	Avg          PosSet
	AvgPupil     float64
}

// Message is a timestamped text message embedded in the recording.
type Message struct {
	T    float64
	Text string
}

// Button is a button state change.
type Button struct {
	T      float64
	Button uint16
	State  uint16
}

// Input is an input-port change.
type Input struct {
	T     float64
	Value uint16
}

// Marker carries head-target marker data.
type Marker struct {
	T     float64
	HData [8]int16
}

// RecordingInfo describes the block that follows: sample rate, recorded
// eye(s) and camera mount position.
type RecordingInfo struct {
	T            float64
	SampleRate   float64
	State        uint8 // 1 = recording started, 0 = stopped
	PupilType    uint8
	Eye          Eye
	CameraBottom bool
}

// Raw is an unrecognized or corrupt-but-framed record surfaced verbatim
// when raw passthrough is enabled.
type Raw struct {
	T       float64
	Kind    Kind
	Payload []byte
}

func (s *Sample) Time() float64        { return s.T }
func (e *StartEvent) Time() float64    { return e.T }
func (e *EndEvent) Time() float64      { return e.T }
func (f *Fixation) Time() float64      { return f.STime }
func (s *Saccade) Time() float64       { return s.STime }
func (b *Blink) Time() float64         { return b.STime }
func (a *Average) Time() float64       { return a.STime }
func (m *Message) Time() float64       { return m.T }
func (b *Button) Time() float64        { return b.T }
func (i *Input) Time() float64         { return i.T }
func (m *Marker) Time() float64        { return m.T }
func (r *RecordingInfo) Time() float64 { return r.T }
func (r *Raw) Time() float64           { return r.T }

func (*Sample) record()        {}
func (*StartEvent) record()    {}
func (*EndEvent) record()      {}
func (*Fixation) record()      {}
func (*Saccade) record()       {}
func (*Blink) record()         {}
func (*Average) record()       {}
func (*Message) record()       {}
func (*Button) record()        {}
func (*Input) record()         {}
func (*Marker) record()        {}
func (*RecordingInfo) record() {}
func (*Raw) record()           {}
