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
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Stream header constants.
var edfMagic = [4]byte{'E', 'D', 'F', 'B'}

const edfVersion = 1

// Header is the fixed preamble of a binary recording stream.
type Header struct {
	Version     uint8
	SampleFlags uint16 // SAMPLE_* bits declaring the per-sample fields present
}

// Reader decodes a binary recording stream into Records. The sequence is
// lazy, finite and non-restartable; Next consumes the stream in file order.
type Reader struct {
	r        *bufio.Reader
	hdr      Header
	offset   int64
	allowRaw bool
}

// NewReader reads the stream header and prepares record iteration.
// When allowRaw is set, unrecognized or corrupt-but-framed records are
// surfaced as Raw passthrough Records instead of aborting the file.
func NewReader(r io.Reader, allowRaw bool) (*Reader, error) {
	br := bufio.NewReader(r)

	b := make([]byte, 8)
	if _, err := io.ReadFull(br, b); err != nil {
		return nil, &DecodeError{Reason: UnexpectedEOF, Err: fmt.Errorf("error reading header: %w", err)}
	}
	if [4]byte(b[0:4]) != edfMagic {
		return nil, &DecodeError{Reason: BadMagic}
	}
	if b[4] != edfVersion {
		return nil, &DecodeError{Reason: BadMagic, Err: fmt.Errorf("unsupported version %d", b[4])}
	}

	return &Reader{
		r: br,
		hdr: Header{
			Version:     b[4],
			SampleFlags: binary.LittleEndian.Uint16(b[5:7]),
		},
		offset:   8,
		allowRaw: allowRaw,
	}, nil
}

// Header returns the decoded stream header.
func (r *Reader) Header() Header { return r.hdr }

// Next returns the next Record in file order, or io.EOF at end of stream.
// Any other error is a *DecodeError.
func (r *Reader) Next() (Record, error) {
	start := r.offset

	hdr := make([]byte, 3)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &DecodeError{Reason: UnexpectedEOF, Offset: start, Err: err}
	}
	kind := Kind(hdr[0])
	length := int(binary.LittleEndian.Uint16(hdr[1:3]))

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, &DecodeError{Reason: UnexpectedEOF, Offset: start, Kind: kind, Err: err}
	}
	r.offset += int64(3 + length)

	rec, err := r.decode(kind, payload)
	if err != nil {
		if r.allowRaw {
			return rawRecord(kind, payload), nil
		}
		return nil, &DecodeError{Reason: CorruptRecord, Offset: start, Kind: kind, Err: err}
	}
	return rec, nil
}

func rawRecord(kind Kind, payload []byte) *Raw {
	raw := &Raw{Kind: kind, Payload: payload}
	if len(payload) >= 4 {
		raw.T = float64(binary.LittleEndian.Uint32(payload[0:4]))
	}
	return raw
}

func (r *Reader) decode(kind Kind, p []byte) (Record, error) {
	switch kind {
	case KindSample:
		return r.decodeSample(p)
	case KindStartFixation, KindStartSaccade, KindStartBlink:
		return decodeStartMarker(kind, p)
	case KindEndFixation:
		return decodeEndFixation(p)
	case KindEndSaccade:
		return decodeEndSaccade(p)
	case KindEndBlink:
		return decodeEndBlink(p)
	case KindFixUpdate:
		return decodeFixUpdate(p)
	case KindStartSamples, KindStartEvents:
		return decodeStartBlock(kind, p)
	case KindEndSamples, KindEndEvents:
		return decodeEndBlock(kind, p)
	case KindMessage:
		return decodeMessage(p)
	case KindButton:
		return decodeButton(p)
	case KindInput:
		return decodeInput(p)
	case KindMarker:
		return decodeMarker(p)
	case KindRecordingInfo:
		return decodeRecordingInfo(p)
	default:
		return nil, fmt.Errorf("unknown record kind %d", kind)
	}
}

// cursor is a little-endian reader over one record payload.
type cursor struct {
	b   []byte
	off int
}

func (c *cursor) remaining() int { return len(c.b) - c.off }

func (c *cursor) u8() uint8 {
	v := c.b[c.off]
	c.off++
	return v
}

func (c *cursor) u16() uint16 {
	v := binary.LittleEndian.Uint16(c.b[c.off:])
	c.off += 2
	return v
}

func (c *cursor) i16() int16 { return int16(c.u16()) }

func (c *cursor) u32() uint32 {
	v := binary.LittleEndian.Uint32(c.b[c.off:])
	c.off += 4
	return v
}

func (c *cursor) f32() float64 {
	v := math.Float32frombits(c.u32())
	return float64(v)
}

func (c *cursor) pair() Pair { return Pair{X: c.f32(), Y: c.f32()} }

func (c *cursor) posSet() PosSet {
	return PosSet{Pupil: c.pair(), Href: c.pair(), Gaze: c.pair()}
}

func checkLen(p []byte, want int) (*cursor, error) {
	if len(p) != want {
		return nil, fmt.Errorf("payload length %d, expected %d", len(p), want)
	}
	return &cursor{b: p}, nil
}

func (r *Reader) decodeSample(p []byte) (*Sample, error) {
	want := 6 // time + per-sample flags
	f := r.hdr.SampleFlags
	for _, bit := range []uint16{SamplePupilXY, SampleHrefXY, SampleGazeXY} {
		if f&bit != 0 {
			want += 16 // two float32 pairs, left and right
		}
	}
	if f&SamplePupilSize != 0 {
		want += 8 // one float per eye
	}
	if f&SampleGazeRes != 0 {
		want += 8
	}
	if f&SampleInputs != 0 {
		want += 2
	}
	if f&SampleButtons != 0 {
		want += 2
	}
	if f&SampleStatus != 0 {
		want += 2
	}
	if f&SampleHeadPos != 0 {
		want += 18
	}

	c, err := checkLen(p, want)
	if err != nil {
		return nil, err
	}

	s := &Sample{
		T:   float64(c.u32()),
		Res: MissingPair(),
	}
	for i := range s.Eyes {
		s.Eyes[i] = EyeSample{
			Pos:       MissingPosSet(),
			PupilSize: Missing,
			Vel:       MissingPair(),
		}
	}

	flags := c.u16()
	if flags&SampleAddOffset != 0 {
		s.T += 0.5
	}
	if f&SamplePupilXY != 0 {
		x, y := c.pair(), c.pair()
		s.Eyes[LeftEye].Pos.Pupil = Pair{x.X, y.X}
		s.Eyes[RightEye].Pos.Pupil = Pair{x.Y, y.Y}
	}
	if f&SampleHrefXY != 0 {
		x, y := c.pair(), c.pair()
		s.Eyes[LeftEye].Pos.Href = Pair{x.X, y.X}
		s.Eyes[RightEye].Pos.Href = Pair{x.Y, y.Y}
	}
	if f&SampleGazeXY != 0 {
		x, y := c.pair(), c.pair()
		s.Eyes[LeftEye].Pos.Gaze = Pair{x.X, y.X}
		s.Eyes[RightEye].Pos.Gaze = Pair{x.Y, y.Y}
	}
	if f&SamplePupilSize != 0 {
		pa := c.pair()
		s.Eyes[LeftEye].PupilSize = pa.X
		s.Eyes[RightEye].PupilSize = pa.Y
	}
	if f&SampleGazeRes != 0 {
		s.Res = c.pair()
	}
	if f&SampleInputs != 0 {
		s.Input = c.u16()
		s.HasInput = true
	}
	if f&SampleButtons != 0 {
		s.Buttons = c.u16()
		s.HasButtons = true
	}
	if f&SampleStatus != 0 {
		s.Errors = c.u16()
	}
	if f&SampleHeadPos != 0 {
		s.HType = c.i16()
		for i := range s.HData {
			s.HData[i] = c.i16()
		}
		s.HasHead = true
	}
	return s, nil
}

func decodeStartMarker(kind Kind, p []byte) (Record, error) {
	c, err := checkLen(p, 5)
	if err != nil {
		return nil, err
	}
	t := float64(c.u32())
	eye := Eye(c.u8())
	if eye > RightEye {
		return nil, fmt.Errorf("invalid eye %d", eye)
	}
	switch kind {
	case KindStartFixation:
		return &Fixation{Eye: eye, STime: t, ETime: Missing, Start: true,
			Avg: MissingPosSet(), AvgPupil: Missing, AvgVel: Missing, Res: MissingPair()}, nil
	case KindStartSaccade:
		return &Saccade{Eye: eye, STime: t, ETime: Missing, Start: true,
			StartPos: MissingPosSet(), EndPos: MissingPosSet(),
			AvgVel: Missing, PeakVel: Missing, Res: MissingPair()}, nil
	default:
		return &Blink{Eye: eye, STime: t, ETime: Missing, Start: true}, nil
	}
}

func decodeEndFixation(p []byte) (*Fixation, error) {
	c, err := checkLen(p, 9+10*4)
	if err != nil {
		return nil, err
	}
	f := &Fixation{STime: float64(c.u32()), ETime: float64(c.u32()), Eye: Eye(c.u8())}
	f.Avg = c.posSet()
	f.AvgPupil = c.f32()
	f.AvgVel = c.f32()
	f.Res = c.pair()
	if f.Eye > RightEye {
		return nil, fmt.Errorf("invalid eye %d", f.Eye)
	}
	return f, nil
}

func decodeEndSaccade(p []byte) (*Saccade, error) {
	c, err := checkLen(p, 9+16*4)
	if err != nil {
		return nil, err
	}
	s := &Saccade{STime: float64(c.u32()), ETime: float64(c.u32()), Eye: Eye(c.u8())}
	s.StartPos = c.posSet()
	s.EndPos = c.posSet()
	s.AvgVel = c.f32()
	s.PeakVel = c.f32()
	s.Res = c.pair()
	if s.Eye > RightEye {
		return nil, fmt.Errorf("invalid eye %d", s.Eye)
	}
	return s, nil
}

func decodeEndBlink(p []byte) (*Blink, error) {
	c, err := checkLen(p, 9)
	if err != nil {
		return nil, err
	}
	b := &Blink{STime: float64(c.u32()), ETime: float64(c.u32()), Eye: Eye(c.u8())}
	if b.Eye > RightEye {
		return nil, fmt.Errorf("invalid eye %d", b.Eye)
	}
	return b, nil
}

func decodeFixUpdate(p []byte) (*Average, error) {
	c, err := checkLen(p, 9+7*4)
	if err != nil {
		return nil, err
	}
	a := &Average{STime: float64(c.u32()), ETime: float64(c.u32()), Eye: Eye(c.u8())}
	a.Avg = c.posSet()
	a.AvgPupil = c.f32()
	if a.Eye > RightEye {
		return nil, fmt.Errorf("invalid eye %d", a.Eye)
	}
	return a, nil
}

func decodeStartBlock(kind Kind, p []byte) (*StartEvent, error) {
	c, err := checkLen(p, 5)
	if err != nil {
		return nil, err
	}
	e := &StartEvent{T: float64(c.u32())}
	mask := c.u8()
	e.Eyes[LeftEye] = mask&0x01 != 0
	e.Eyes[RightEye] = mask&0x02 != 0
	if kind == KindStartSamples {
		e.Samples = true
	} else {
		e.Events = true
	}
	return e, nil
}

func decodeEndBlock(kind Kind, p []byte) (*EndEvent, error) {
	c, err := checkLen(p, 12)
	if err != nil {
		return nil, err
	}
	e := &EndEvent{T: float64(c.u32())}
	e.Res = c.pair()
	if kind == KindEndSamples {
		e.Samples = true
	} else {
		e.Events = true
	}
	return e, nil
}

func decodeMessage(p []byte) (*Message, error) {
	if len(p) < 6 {
		return nil, fmt.Errorf("message payload too short: %d", len(p))
	}
	c := &cursor{b: p}
	m := &Message{T: float64(c.u32())}
	n := int(c.u16())
	if n != c.remaining() {
		return nil, fmt.Errorf("message length %d, %d bytes remain", n, c.remaining())
	}
	m.Text = string(p[c.off:])
	return m, nil
}

func decodeButton(p []byte) (*Button, error) {
	c, err := checkLen(p, 8)
	if err != nil {
		return nil, err
	}
	return &Button{T: float64(c.u32()), Button: c.u16(), State: c.u16()}, nil
}

func decodeInput(p []byte) (*Input, error) {
	c, err := checkLen(p, 6)
	if err != nil {
		return nil, err
	}
	return &Input{T: float64(c.u32()), Value: c.u16()}, nil
}

func decodeMarker(p []byte) (*Marker, error) {
	c, err := checkLen(p, 4+8*2)
	if err != nil {
		return nil, err
	}
	m := &Marker{T: float64(c.u32())}
	for i := range m.HData {
		m.HData[i] = c.i16()
	}
	return m, nil
}

func decodeRecordingInfo(p []byte) (*RecordingInfo, error) {
	c, err := checkLen(p, 12)
	if err != nil {
		return nil, err
	}
	r := &RecordingInfo{T: float64(c.u32()), SampleRate: c.f32()}
	r.State = c.u8()
	r.PupilType = c.u8()
	eye := c.u8()
	if eye < 1 || eye > 3 {
		return nil, fmt.Errorf("invalid recording eye %d", eye)
	}
	r.Eye = Eye(eye - 1) // recording info eyes are 1-based
	r.CameraBottom = c.u8() == 1
	return r, nil
}
