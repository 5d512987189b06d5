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

// Writer encodes Records into the binary recording framing. It is the
// encode-side counterpart of Reader and produces streams Reader accepts
// byte for byte.
type Writer struct {
	w   *bufio.Writer
	hdr Header
}

// NewWriter writes the stream header and prepares record encoding.
// sampleFlags declares which per-sample field groups this stream's
// samples will carry.
func NewWriter(w io.Writer, sampleFlags uint16) (*Writer, error) {
	bw := bufio.NewWriter(w)

	b := make([]byte, 8)
	copy(b[0:4], edfMagic[:])
	b[4] = edfVersion
	binary.LittleEndian.PutUint16(b[5:7], sampleFlags)
	if _, err := bw.Write(b); err != nil {
		return nil, fmt.Errorf("error writing header: %w", err)
	}

	return &Writer{
		w:   bw,
		hdr: Header{Version: edfVersion, SampleFlags: sampleFlags},
	}, nil
}

// Flush flushes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// builder accumulates one record payload in little-endian order.
type builder struct {
	b []byte
}

func (b *builder) u8(v uint8)   { b.b = append(b.b, v) }
func (b *builder) u16(v uint16) { b.b = binary.LittleEndian.AppendUint16(b.b, v) }
func (b *builder) i16(v int16)  { b.u16(uint16(v)) }
func (b *builder) u32(v uint32) { b.b = binary.LittleEndian.AppendUint32(b.b, v) }
func (b *builder) f32(v float64) {
	b.u32(math.Float32bits(float32(v)))
}
func (b *builder) pair(p Pair) {
	b.f32(p.X)
	b.f32(p.Y)
}
func (b *builder) posSet(p PosSet) {
	b.pair(p.Pupil)
	b.pair(p.Href)
	b.pair(p.Gaze)
}

// WriteRecord encodes one Record.
func (w *Writer) WriteRecord(rec Record) error {
	var (
		kind Kind
		bld  builder
	)
	switch r := rec.(type) {
	case *Sample:
		kind = KindSample
		w.encodeSample(&bld, r)
	case *Fixation:
		if r.Start {
			kind = KindStartFixation
			encodeStartMarker(&bld, r.STime, r.Eye)
		} else {
			kind = KindEndFixation
			bld.u32(uint32(r.STime))
			bld.u32(uint32(r.ETime))
			bld.u8(uint8(r.Eye))
			bld.posSet(r.Avg)
			bld.f32(r.AvgPupil)
			bld.f32(r.AvgVel)
			bld.pair(r.Res)
		}
	case *Saccade:
		if r.Start {
			kind = KindStartSaccade
			encodeStartMarker(&bld, r.STime, r.Eye)
		} else {
			kind = KindEndSaccade
			bld.u32(uint32(r.STime))
			bld.u32(uint32(r.ETime))
			bld.u8(uint8(r.Eye))
			bld.posSet(r.StartPos)
			bld.posSet(r.EndPos)
			bld.f32(r.AvgVel)
			bld.f32(r.PeakVel)
			bld.pair(r.Res)
		}
	case *Blink:
		if r.Start {
			kind = KindStartBlink
			encodeStartMarker(&bld, r.STime, r.Eye)
		} else {
			kind = KindEndBlink
			bld.u32(uint32(r.STime))
			bld.u32(uint32(r.ETime))
			bld.u8(uint8(r.Eye))
		}
	case *Average:
		kind = KindFixUpdate
		bld.u32(uint32(r.STime))
		bld.u32(uint32(r.ETime))
		bld.u8(uint8(r.Eye))
		bld.posSet(r.Avg)
		bld.f32(r.AvgPupil)
	case *StartEvent:
		if r.Samples {
			kind = KindStartSamples
		} else {
			kind = KindStartEvents
		}
		bld.u32(uint32(r.T))
		var mask uint8
		if r.Eyes[LeftEye] {
			mask |= 0x01
		}
		if r.Eyes[RightEye] {
			mask |= 0x02
		}
		bld.u8(mask)
	case *EndEvent:
		if r.Samples {
			kind = KindEndSamples
		} else {
			kind = KindEndEvents
		}
		bld.u32(uint32(r.T))
		bld.pair(r.Res)
	case *Message:
		kind = KindMessage
		bld.u32(uint32(r.T))
		bld.u16(uint16(len(r.Text)))
		bld.b = append(bld.b, r.Text...)
	case *Button:
		kind = KindButton
		bld.u32(uint32(r.T))
		bld.u16(r.Button)
		bld.u16(r.State)
	case *Input:
		kind = KindInput
		bld.u32(uint32(r.T))
		bld.u16(r.Value)
	case *Marker:
		kind = KindMarker
		bld.u32(uint32(r.T))
		for _, h := range r.HData {
			bld.i16(h)
		}
	case *RecordingInfo:
		kind = KindRecordingInfo
		bld.u32(uint32(r.T))
		bld.f32(r.SampleRate)
		bld.u8(r.State)
		bld.u8(r.PupilType)
		bld.u8(uint8(r.Eye) + 1) // recording info eyes are 1-based
		if r.CameraBottom {
			bld.u8(1)
		} else {
			bld.u8(0)
		}
	case *Raw:
		kind = r.Kind
		bld.b = append(bld.b, r.Payload...)
	default:
		return fmt.Errorf("unsupported record type %T", rec)
	}

	if len(bld.b) > math.MaxUint16 {
		return fmt.Errorf("record payload too large: %d bytes", len(bld.b))
	}
	hdr := []byte{byte(kind), 0, 0}
	binary.LittleEndian.PutUint16(hdr[1:3], uint16(len(bld.b)))
	if _, err := w.w.Write(hdr); err != nil {
		return err
	}
	if _, err := w.w.Write(bld.b); err != nil {
		return err
	}
	return nil
}

func encodeStartMarker(b *builder, stime float64, eye Eye) {
	b.u32(uint32(stime))
	b.u8(uint8(eye))
}

func (w *Writer) encodeSample(b *builder, s *Sample) {
	t := uint32(s.T)
	var flags uint16
	if s.T-math.Floor(s.T) >= 0.5 {
		flags |= SampleAddOffset
	}
	b.u32(t)
	b.u16(flags)

	f := w.hdr.SampleFlags
	if f&SamplePupilXY != 0 {
		b.pair(Pair{s.Eyes[LeftEye].Pos.Pupil.X, s.Eyes[RightEye].Pos.Pupil.X})
		b.pair(Pair{s.Eyes[LeftEye].Pos.Pupil.Y, s.Eyes[RightEye].Pos.Pupil.Y})
	}
	if f&SampleHrefXY != 0 {
		b.pair(Pair{s.Eyes[LeftEye].Pos.Href.X, s.Eyes[RightEye].Pos.Href.X})
		b.pair(Pair{s.Eyes[LeftEye].Pos.Href.Y, s.Eyes[RightEye].Pos.Href.Y})
	}
	if f&SampleGazeXY != 0 {
		b.pair(Pair{s.Eyes[LeftEye].Pos.Gaze.X, s.Eyes[RightEye].Pos.Gaze.X})
		b.pair(Pair{s.Eyes[LeftEye].Pos.Gaze.Y, s.Eyes[RightEye].Pos.Gaze.Y})
	}
	if f&SamplePupilSize != 0 {
		b.pair(Pair{s.Eyes[LeftEye].PupilSize, s.Eyes[RightEye].PupilSize})
	}
	if f&SampleGazeRes != 0 {
		b.pair(s.Res)
	}
	if f&SampleInputs != 0 {
		b.u16(s.Input)
	}
	if f&SampleButtons != 0 {
		b.u16(s.Buttons)
	}
	if f&SampleStatus != 0 {
		b.u16(s.Errors)
	}
	if f&SampleHeadPos != 0 {
		b.i16(s.HType)
		for _, h := range s.HData {
			b.i16(h)
		}
	}
}
