// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The edf2asc authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf2asc_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/eyetools/edf2asc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leftGazeSample(t *testing.T, tt, physX, physY float64) *edf2asc.Sample {
	t.Helper()
	s := &edf2asc.Sample{T: tt, Res: edf2asc.MissingPair()}
	for i := range s.Eyes {
		s.Eyes[i] = edf2asc.EyeSample{
			Pos:       edf2asc.MissingPosSet(),
			PupilSize: edf2asc.Missing,
			Vel:       edf2asc.MissingPair(),
		}
	}
	s.Eyes[edf2asc.LeftEye].Pos.Gaze = edf2asc.Pair{X: physX, Y: physY}
	s.Eyes[edf2asc.LeftEye].PupilSize = 900
	return s
}

// encodeStream renders records into the binary framing for Convert tests.
func encodeStream(t *testing.T, recs ...edf2asc.Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	flags := edf2asc.SampleGazeXY | edf2asc.SamplePupilSize
	w, err := edf2asc.NewWriter(&buf, flags)
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, w.WriteRecord(rec))
	}
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

func TestConvert(t *testing.T) {
	stream := encodeStream(t,
		&edf2asc.RecordingInfo{T: 900, SampleRate: 1000, Eye: edf2asc.LeftEye},
		&edf2asc.StartEvent{T: 999, Eyes: [2]bool{true, false}, Samples: true},
		leftGazeSample(t, 1000, 0, 0),
		leftGazeSample(t, 1001, 0, 0),
		leftGazeSample(t, 1002, 0, 0),
		&edf2asc.Message{T: 1400, Text: "TRIALID 7"},
		&edf2asc.EndEvent{T: 1500, Samples: true, Res: edf2asc.MissingPair()},
	)

	var out bytes.Buffer
	sum, err := edf2asc.Convert(edf2asc.DefaultOptions(), bytes.NewReader(stream), &out)
	require.NoError(t, err)

	// Physical screen center lands on the pixel screen center.
	want := []string{
		"START 999 L SAMPLES",
		"1000 511.5 383.5 900.0 1e8 1e8 1e8",
		"1001 511.5 383.5 900.0 1e8 1e8 1e8",
		"1002 511.5 383.5 900.0 1e8 1e8 1e8",
		"MSG 1400 TRIALID 7",
		"END 1500 SAMPLES RES 1e8 1e8",
	}
	assert.Equal(t, strings.Join(want, "\n")+"\n", out.String())

	assert.Equal(t, 7, sum.Records)
	assert.Equal(t, 6, sum.Emitted)
	assert.Equal(t, 0, sum.Dropped)
}

func TestConvertVelocityPreservesOrder(t *testing.T) {
	o := edf2asc.DefaultOptions()
	o.Selection.SampleVelocity = true
	o.Selection.FastVelocity = true

	// A message arrives mid-run; velocity needs lookahead across it, but
	// the output order must match the input order.
	stream := encodeStream(t,
		&edf2asc.RecordingInfo{T: 900, SampleRate: 1000, Eye: edf2asc.LeftEye},
		leftGazeSample(t, 1000, 0, 0),
		leftGazeSample(t, 1001, 0, 0),
		&edf2asc.Message{T: 1001, Text: "mid-run"},
		leftGazeSample(t, 1002, 0, 0),
		leftGazeSample(t, 1003, 0, 0),
		&edf2asc.EndEvent{T: 1500, Samples: true, Res: edf2asc.MissingPair()},
	)

	var out bytes.Buffer
	sum, err := edf2asc.Convert(o, bytes.NewReader(stream), &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "MSG 1001 mid-run", lines[2])
	assert.True(t, strings.HasPrefix(lines[5], "END "))

	// Stationary gaze: interior samples get a zero velocity, boundary
	// samples keep the sentinel.
	assert.Equal(t, "1000 511.5 383.5 900.0 1e8 1e8 1e8 1e8 1e8 1e8 1e8", lines[0])
	assert.Equal(t, "1001 511.5 383.5 900.0 1e8 1e8 1e8 0.0 0.0 1e8 1e8", lines[1])
	assert.Equal(t, "1002 511.5 383.5 900.0 1e8 1e8 1e8 0.0 0.0 1e8 1e8", lines[3])
	assert.Equal(t, "1003 511.5 383.5 900.0 1e8 1e8 1e8 1e8 1e8 1e8 1e8", lines[4])

	assert.InDelta(t, 0, sum.PeakVelocity, 1e-9)
}

func TestConvertInvalidOptions(t *testing.T) {
	o := edf2asc.DefaultOptions()
	o.Selection.LeftEye = false
	o.Selection.RightEye = false

	var out bytes.Buffer
	sum, err := edf2asc.Convert(o, bytes.NewReader(nil), &out)
	require.Error(t, err)
	require.NotNil(t, sum)

	var cerr *edf2asc.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Zero(t, out.Len())
	assert.Zero(t, sum.Records)
}

func TestConvertDecodeErrorKeepsOutput(t *testing.T) {
	stream := encodeStream(t, &edf2asc.Message{T: 1400, Text: "before the damage"})
	// A truncated frame follows the valid message.
	stream = append(stream, byte(edf2asc.KindInput), 6, 0, 0xAA)

	var out bytes.Buffer
	sum, err := edf2asc.Convert(edf2asc.DefaultOptions(), bytes.NewReader(stream), &out)
	require.Error(t, err)

	var derr *edf2asc.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, edf2asc.UnexpectedEOF, derr.Reason)

	// Lines completed before the failure survive.
	assert.Equal(t, "MSG 1400 before the damage\n", out.String())
	assert.Equal(t, 1, sum.Emitted)
}

func TestConvertRawPassthrough(t *testing.T) {
	o := edf2asc.DefaultOptions()
	o.Diag.AllowRaw = true

	stream := encodeStream(t, &edf2asc.Message{T: 1000, Text: "ok"})
	stream = append(stream, byte(250), 4, 0, 0xDE, 0xAD, 0xBE, 0xEF)

	var out bytes.Buffer
	sum, err := edf2asc.Convert(o, bytes.NewReader(stream), &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "RAW 250 deadbeef", lines[1])
	assert.Equal(t, 1, sum.RawRecords)
}

func TestConvertBOM(t *testing.T) {
	o := edf2asc.DefaultOptions()
	o.Format.UTF8BOM = true

	stream := encodeStream(t, &edf2asc.Message{T: 1000, Text: "hello"})

	var out bytes.Buffer
	_, err := edf2asc.Convert(o, bytes.NewReader(stream), &out)
	require.NoError(t, err)
	assert.Equal(t, "\xEF\xBB\xBFMSG 1000 hello\n", out.String())
}

func TestConvertConsistencyFailsafe(t *testing.T) {
	o := edf2asc.DefaultOptions()
	o.Diag.ConsistencyCheck = true
	o.Diag.Failsafe = true

	stream := encodeStream(t,
		&edf2asc.RecordingInfo{T: 900, SampleRate: 1000, Eye: edf2asc.LeftEye},
		leftGazeSample(t, 1000, 0, 0),
		leftGazeSample(t, 1001, 0, 0),
		leftGazeSample(t, 1002, 0, 0),
		// Claims coverage well before the first sample.
		&edf2asc.Fixation{Eye: edf2asc.LeftEye, STime: 500, ETime: 1002,
			Avg: edf2asc.MissingPosSet(), AvgPupil: edf2asc.Missing,
			AvgVel: edf2asc.Missing, Res: edf2asc.MissingPair()},
	)

	var out bytes.Buffer
	sum, err := edf2asc.Convert(o, bytes.NewReader(stream), &out)
	require.NoError(t, err)

	assert.NotContains(t, out.String(), "EFIX")
	assert.Equal(t, 1, sum.ConsistencyWarnings)
	assert.Equal(t, 1, sum.Dropped)
}
