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
	"encoding/binary"
	"io"
	"testing"

	"github.com/eyetools/edf2asc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamHeader builds the 8-byte stream preamble by hand so tests can
// corrupt individual fields.
func streamHeader(magic string, version uint8, sampleFlags uint16) []byte {
	b := make([]byte, 8)
	copy(b[0:4], magic)
	b[4] = version
	binary.LittleEndian.PutUint16(b[5:7], sampleFlags)
	return b
}

// framedRecord appends one kind/length/payload frame.
func framedRecord(kind edf2asc.Kind, payload []byte) []byte {
	b := []byte{byte(kind), 0, 0}
	binary.LittleEndian.PutUint16(b[1:3], uint16(len(payload)))
	return append(b, payload...)
}

func TestReaderBadMagic(t *testing.T) {
	_, err := edf2asc.NewReader(bytes.NewReader(streamHeader("NOPE", 1, 0)), false)
	require.Error(t, err)

	var derr *edf2asc.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, edf2asc.BadMagic, derr.Reason)
}

func TestReaderUnsupportedVersion(t *testing.T) {
	_, err := edf2asc.NewReader(bytes.NewReader(streamHeader("EDFB", 99, 0)), false)
	require.Error(t, err)

	var derr *edf2asc.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, edf2asc.BadMagic, derr.Reason)
}

func TestReaderTruncatedHeader(t *testing.T) {
	_, err := edf2asc.NewReader(bytes.NewReader([]byte("EDF")), false)
	require.Error(t, err)

	var derr *edf2asc.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, edf2asc.UnexpectedEOF, derr.Reason)
}

func TestReaderEOF(t *testing.T) {
	r, err := edf2asc.NewReader(bytes.NewReader(streamHeader("EDFB", 1, 0)), false)
	require.NoError(t, err)

	_, err = r.Next()
	require.Equal(t, io.EOF, err)
}

func TestReaderTruncatedRecord(t *testing.T) {
	stream := streamHeader("EDFB", 1, 0)
	// Frame declares a 6-byte payload, but only 2 bytes follow.
	stream = append(stream, byte(edf2asc.KindInput), 6, 0, 0xAA, 0xBB)

	r, err := edf2asc.NewReader(bytes.NewReader(stream), false)
	require.NoError(t, err)

	_, err = r.Next()
	require.Error(t, err)

	var derr *edf2asc.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, edf2asc.UnexpectedEOF, derr.Reason)
	assert.Equal(t, edf2asc.KindInput, derr.Kind)
	assert.Equal(t, int64(8), derr.Offset)
}

func TestReaderCorruptRecord(t *testing.T) {
	stream := streamHeader("EDFB", 1, 0)
	// An input record with a short payload is well framed but undecodable.
	stream = append(stream, framedRecord(edf2asc.KindInput, []byte{1, 2, 3})...)

	r, err := edf2asc.NewReader(bytes.NewReader(stream), false)
	require.NoError(t, err)

	_, err = r.Next()
	require.Error(t, err)

	var derr *edf2asc.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, edf2asc.CorruptRecord, derr.Reason)
	assert.Equal(t, edf2asc.KindInput, derr.Kind)
}

func TestReaderCorruptRecordAsRaw(t *testing.T) {
	stream := streamHeader("EDFB", 1, 0)
	stream = append(stream, framedRecord(edf2asc.KindInput, []byte{1, 2, 3})...)
	stream = append(stream, framedRecord(edf2asc.KindInput, []byte{0xE8, 0x03, 0, 0, 0x2A, 0})...)

	r, err := edf2asc.NewReader(bytes.NewReader(stream), true)
	require.NoError(t, err)

	// Corrupt record becomes a passthrough instead of ending the file.
	rec, err := r.Next()
	require.NoError(t, err)
	raw, ok := rec.(*edf2asc.Raw)
	require.True(t, ok)
	assert.Equal(t, edf2asc.KindInput, raw.Kind)
	assert.Equal(t, []byte{1, 2, 3}, raw.Payload)

	// Valid records after it still decode.
	rec, err = r.Next()
	require.NoError(t, err)
	in, ok := rec.(*edf2asc.Input)
	require.True(t, ok)
	assert.Equal(t, float64(1000), in.Time())
	assert.Equal(t, uint16(42), in.Value)
}

func TestReaderUnknownKind(t *testing.T) {
	stream := streamHeader("EDFB", 1, 0)
	stream = append(stream, framedRecord(edf2asc.Kind(250), []byte{0xE8, 0x03, 0, 0, 0xFF})...)

	r, err := edf2asc.NewReader(bytes.NewReader(stream), false)
	require.NoError(t, err)
	_, err = r.Next()
	var derr *edf2asc.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, edf2asc.CorruptRecord, derr.Reason)

	r, err = edf2asc.NewReader(bytes.NewReader(stream), true)
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	raw, ok := rec.(*edf2asc.Raw)
	require.True(t, ok)
	assert.Equal(t, edf2asc.Kind(250), raw.Kind)
	assert.Equal(t, float64(1000), raw.Time())
}

func TestReaderInvalidEye(t *testing.T) {
	stream := streamHeader("EDFB", 1, 0)
	stream = append(stream, framedRecord(edf2asc.KindStartFixation, []byte{0xE8, 0x03, 0, 0, 7})...)

	r, err := edf2asc.NewReader(bytes.NewReader(stream), false)
	require.NoError(t, err)

	_, err = r.Next()
	var derr *edf2asc.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, edf2asc.CorruptRecord, derr.Reason)
	assert.Equal(t, edf2asc.KindStartFixation, derr.Kind)
}

func TestReaderHeader(t *testing.T) {
	flags := edf2asc.SampleGazeXY | edf2asc.SamplePupilSize
	r, err := edf2asc.NewReader(bytes.NewReader(streamHeader("EDFB", 1, flags)), false)
	require.NoError(t, err)

	hdr := r.Header()
	assert.Equal(t, uint8(1), hdr.Version)
	assert.Equal(t, flags, hdr.SampleFlags)
}
