// Package codec implements a run-length plus XOR-delta encoder for
// batches of fixed-size input records. Most adjacent game inputs repeat
// or change in a handful of bits, so the
// XOR stream between successive records is dominated by 0x00 runs that
// the RLE layer compresses well.
package codec

import (
	"github.com/wallstop/fortress"
)

// varint is LEB128 (little-endian base 128) encoding, used for RLE
// chunk headers.
func varintEncodedLen(value uint64) int {
	if value == 0 {
		return 1
	}
	n := 0
	for value > 0 {
		n++
		value >>= 7
	}
	return n
}

func varintEncode(value uint64, buf []byte) int {
	i := 0
	for value >= 0x80 {
		if i >= len(buf) {
			return i
		}
		buf[i] = byte(value) | 0x80
		value >>= 7
		i++
	}
	if i >= len(buf) {
		return i
	}
	buf[i] = byte(value)
	return i + 1
}

func varintEncodeToSlice(value uint64) []byte {
	buf := make([]byte, varintEncodedLen(value))
	varintEncode(value, buf)
	return buf
}

// varintDecode reads a varint starting at offset, returning the decoded
// value and the number of bytes consumed. A truncated varint at the end
// of buf decodes to whatever was accumulated so far.
func varintDecode(buf []byte, offset int) (uint64, int) {
	var value uint64
	var shift uint
	i := offset
	for {
		if i >= len(buf) {
			break
		}
		b := buf[i]
		value |= uint64(b&0x7F) << shift
		i++
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 64 {
			break
		}
	}
	return value, i - offset
}

// EncodeRLE run-length-encodes buf. Runs of 0x00 or 0xFF bytes are
// emitted as a tagged varint header with no payload; everything else is
// emitted as a tagged header followed by the raw bytes.
//
// Header format (matches the varint's low bits):
//   - compressed:   value = len<<2 | bit<<1 | 1   (bit: 0 for 0x00, 1 for 0xFF)
//   - uncompressed: value = len<<1 | 0, followed by len raw bytes
func EncodeRLE(buf []byte) []byte {
	enc := make([]byte, 0, len(buf)/4+8)

	var contiguous bool
	var contiguousLen uint64
	var prevByte byte
	var noncontig []byte

	flushContiguous := func() {
		value := contiguousLen<<2 | 1
		if prevByte == 0xFF {
			value |= 2
		}
		enc = append(enc, varintEncodeToSlice(value)...)
	}
	flushNoncontig := func() {
		if len(noncontig) == 0 {
			return
		}
		value := uint64(len(noncontig)) << 1
		enc = append(enc, varintEncodeToSlice(value)...)
		enc = append(enc, noncontig...)
		noncontig = nil
	}

	for i, b := range buf {
		if contiguous && b == prevByte {
			contiguousLen++
			continue
		}
		if contiguous {
			flushContiguous()
		}

		if b == 0 || b == 0xFF {
			if !contiguous && i > 0 {
				flushNoncontig()
			}
			contiguousLen = 1
			prevByte = b
			contiguous = true
		} else if !contiguous {
			noncontig = append(noncontig, b)
		} else {
			contiguous = false
			noncontig = append(noncontig, b)
		}
	}

	if contiguous {
		flushContiguous()
	} else {
		flushNoncontig()
	}

	return enc
}

// DecodeRLE expands an RLE-encoded buffer. It rejects malformed input
// (truncated varints, length overruns) with a structured error rather
// than panicking.
func DecodeRLE(buf []byte) ([]byte, error) {
	decodedLen, err := rleDecodedLen(buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, decodedLen)
	ptr := 0
	offset := 0

	for offset < len(buf) {
		header, consumed := varintDecode(buf, offset)
		offset += consumed

		repeat := header & 1
		var length int
		if repeat != 0 {
			length = int(header >> 2)
		} else {
			length = int(header >> 1)
		}

		if ptr+length > len(out) {
			return nil, fortress.ErrSerialization
		}

		if repeat != 0 {
			if header&2 != 0 {
				for i := 0; i < length; i++ {
					out[ptr+i] = 0xFF
				}
			}
			// bit 0 means the bytes are already zero from allocation.
		} else {
			if offset+length > len(buf) {
				return nil, fortress.ErrSerialization
			}
			copy(out[ptr:ptr+length], buf[offset:offset+length])
			offset += length
		}
		ptr += length
	}

	return out, nil
}

func rleDecodedLen(buf []byte) (int, error) {
	length := 0
	offset := 0
	for offset < len(buf) {
		header, consumed := varintDecode(buf, offset)
		if buf[offset+consumed-1]&0x80 != 0 {
			return 0, fortress.ErrSerialization
		}
		offset += consumed

		repeat := header & 1
		var chunkLen int
		if repeat != 0 {
			chunkLen = int(header >> 2)
		} else {
			chunkLen = int(header >> 1)
		}
		length += chunkLen
		if repeat == 0 {
			offset += chunkLen
		}
	}
	if offset > len(buf) {
		return 0, fortress.ErrSerialization
	}
	return length, nil
}

// XORDelta computes the byte-wise XOR of each consecutive record
// against its predecessor (the first record against reference),
// producing a flat byte stream of len(records)*recordSize bytes. Every
// record (and reference) must have exactly recordSize bytes.
func XORDelta(reference []byte, records [][]byte, recordSize int) []byte {
	out := make([]byte, 0, len(records)*recordSize)
	prev := reference
	for _, rec := range records {
		chunk := make([]byte, recordSize)
		for i := 0; i < recordSize; i++ {
			var p byte
			if i < len(prev) {
				p = prev[i]
			}
			var r byte
			if i < len(rec) {
				r = rec[i]
			}
			chunk[i] = p ^ r
		}
		out = append(out, chunk...)
		prev = rec
	}
	return out
}

// XORUndelta is the inverse of XORDelta: given the flat XOR stream and
// the same reference/recordSize, it reconstructs the original records.
func XORUndelta(reference []byte, xorStream []byte, recordSize int) ([][]byte, error) {
	if recordSize <= 0 || len(xorStream)%recordSize != 0 {
		return nil, fortress.ErrSerialization
	}
	n := len(xorStream) / recordSize
	records := make([][]byte, n)
	prev := reference
	for i := 0; i < n; i++ {
		chunk := xorStream[i*recordSize : (i+1)*recordSize]
		rec := make([]byte, recordSize)
		for j := 0; j < recordSize; j++ {
			var p byte
			if j < len(prev) {
				p = prev[j]
			}
			rec[j] = p ^ chunk[j]
		}
		records[i] = rec
		prev = rec
	}
	return records, nil
}

// EncodeInputBatch is the full delta-codec pipeline: XOR each record
// against its predecessor (or reference), then RLE-compress the result.
// This is what the peer FSM calls when building an Input packet body.
func EncodeInputBatch(reference []byte, records [][]byte, recordSize int) []byte {
	return EncodeRLE(XORDelta(reference, records, recordSize))
}

// DecodeInputBatch is the inverse of EncodeInputBatch.
func DecodeInputBatch(reference []byte, encoded []byte, recordSize int) ([][]byte, error) {
	xorStream, err := DecodeRLE(encoded)
	if err != nil {
		return nil, err
	}
	return XORUndelta(reference, xorStream, recordSize)
}
