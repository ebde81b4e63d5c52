// Package wire implements the peer protocol's binary framing: every
// datagram carries a 2-byte magic header followed by a tagged body.
// Encoding is little-endian length-prefixed.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/wallstop/fortress"
)

// Tag discriminates a message body.
type Tag uint8

const (
	TagSyncRequest    Tag = 1
	TagSyncReply      Tag = 2
	TagInput          Tag = 3
	TagInputAck       Tag = 4
	TagQualityReport  Tag = 5
	TagQualityReply   Tag = 6
	TagKeepAlive      Tag = 7
	TagChecksumReport Tag = 8
)

// ConnectStatusWire is the wire-format mirror of frameinfo.ConnectStatus.
type ConnectStatusWire struct {
	Disconnected bool
	LastFrame    int32
}

// SyncRequest carries a random token the peer must echo back.
type SyncRequest struct{ Random uint32 }

// SyncReply echoes a prior SyncRequest's token.
type SyncReply struct{ Random uint32 }

// Input carries a batch of delta-encoded input records.
type Input struct {
	StartFrame          int32
	AckFrame            int32
	DisconnectRequested bool
	PeerConnectStatus   []ConnectStatusWire
	EncodedBytes        []byte
}

// InputAck acknowledges receipt up to AckFrame.
type InputAck struct{ AckFrame int32 }

// QualityReport carries the sender's frame-advantage scalar and a wall-
// clock ping timestamp (milliseconds) to echo back.
type QualityReport struct {
	FrameAdvantage int16
	PingMs         int64
}

// QualityReply echoes the ping timestamp back as pong.
type QualityReply struct{ PongMs int64 }

// KeepAlive carries no payload.
type KeepAlive struct{}

// ChecksumReport carries a desync-detection checksum for a confirmed
// frame.
type ChecksumReport struct {
	Frame       int32
	ChecksumHi  uint64
	ChecksumLo  uint64
}

// Message is a decoded datagram: a magic header plus exactly one body
// variant (selected by Tag; the other fields are the zero value).
type Message struct {
	Magic uint16
	Tag   Tag

	SyncRequest    SyncRequest
	SyncReply      SyncReply
	Input          Input
	InputAck       InputAck
	QualityReport  QualityReport
	QualityReply   QualityReply
	ChecksumReport ChecksumReport
}

func putUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func putInt32(buf []byte, v int32) []byte {
	return putUint32(buf, uint32(v))
}

func putUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func putInt64(buf []byte, v int64) []byte {
	return putUint64(buf, uint64(v))
}

func putInt16(buf []byte, v int16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], uint16(v))
	return append(buf, tmp[:]...)
}

func putBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func putBytes(buf []byte, data []byte) []byte {
	buf = putUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

// Encode serializes m into its wire representation.
func Encode(m Message) []byte {
	buf := make([]byte, 0, 32)
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], m.Magic)
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(m.Tag))

	switch m.Tag {
	case TagSyncRequest:
		buf = putUint32(buf, m.SyncRequest.Random)
	case TagSyncReply:
		buf = putUint32(buf, m.SyncReply.Random)
	case TagInput:
		buf = putInt32(buf, m.Input.StartFrame)
		buf = putInt32(buf, m.Input.AckFrame)
		buf = putBool(buf, m.Input.DisconnectRequested)
		buf = putUint32(buf, uint32(len(m.Input.PeerConnectStatus)))
		for _, cs := range m.Input.PeerConnectStatus {
			buf = putBool(buf, cs.Disconnected)
			buf = putInt32(buf, cs.LastFrame)
		}
		buf = putBytes(buf, m.Input.EncodedBytes)
	case TagInputAck:
		buf = putInt32(buf, m.InputAck.AckFrame)
	case TagQualityReport:
		buf = putInt16(buf, m.QualityReport.FrameAdvantage)
		buf = putInt64(buf, m.QualityReport.PingMs)
	case TagQualityReply:
		buf = putInt64(buf, m.QualityReply.PongMs)
	case TagKeepAlive:
		// empty body
	case TagChecksumReport:
		buf = putInt32(buf, m.ChecksumReport.Frame)
		buf = putUint64(buf, m.ChecksumReport.ChecksumHi)
		buf = putUint64(buf, m.ChecksumReport.ChecksumLo)
	}
	return buf
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) require(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: truncated wire message (need %d bytes at offset %d, have %d)", fortress.ErrSerialization, n, r.pos, len(r.buf))
	}
	return nil
}

func (r *reader) uint32() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

func (r *reader) uint64() (uint64, error) {
	if err := r.require(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) int64() (int64, error) {
	v, err := r.uint64()
	return int64(v), err
}

func (r *reader) int16() (int16, error) {
	if err := r.require(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return int16(v), nil
}

func (r *reader) boolean() (bool, error) {
	if err := r.require(1); err != nil {
		return false, err
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if err := r.require(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

// Decode parses a wire datagram. Malformed input (truncated fields,
// unknown tag, oversize count) is reported as a structured
// fortress.ErrSerialization-wrapped error rather than panicking.
func Decode(data []byte) (Message, error) {
	r := reader{buf: data}
	if err := r.require(3); err != nil {
		return Message{}, err
	}
	magic := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	tag := Tag(r.buf[r.pos])
	r.pos++

	m := Message{Magic: magic, Tag: tag}

	switch tag {
	case TagSyncRequest:
		v, err := r.uint32()
		if err != nil {
			return Message{}, err
		}
		m.SyncRequest = SyncRequest{Random: v}
	case TagSyncReply:
		v, err := r.uint32()
		if err != nil {
			return Message{}, err
		}
		m.SyncReply = SyncReply{Random: v}
	case TagInput:
		start, err := r.int32()
		if err != nil {
			return Message{}, err
		}
		ack, err := r.int32()
		if err != nil {
			return Message{}, err
		}
		disc, err := r.boolean()
		if err != nil {
			return Message{}, err
		}
		count, err := r.uint32()
		if err != nil {
			return Message{}, err
		}
		if count > 1<<16 {
			return Message{}, fmt.Errorf("%w: implausible peer_connect_status count %d", fortress.ErrSerialization, count)
		}
		statuses := make([]ConnectStatusWire, count)
		for i := range statuses {
			d, err := r.boolean()
			if err != nil {
				return Message{}, err
			}
			lf, err := r.int32()
			if err != nil {
				return Message{}, err
			}
			statuses[i] = ConnectStatusWire{Disconnected: d, LastFrame: lf}
		}
		encoded, err := r.bytes()
		if err != nil {
			return Message{}, err
		}
		m.Input = Input{StartFrame: start, AckFrame: ack, DisconnectRequested: disc, PeerConnectStatus: statuses, EncodedBytes: encoded}
	case TagInputAck:
		v, err := r.int32()
		if err != nil {
			return Message{}, err
		}
		m.InputAck = InputAck{AckFrame: v}
	case TagQualityReport:
		adv, err := r.int16()
		if err != nil {
			return Message{}, err
		}
		ping, err := r.int64()
		if err != nil {
			return Message{}, err
		}
		m.QualityReport = QualityReport{FrameAdvantage: adv, PingMs: ping}
	case TagQualityReply:
		pong, err := r.int64()
		if err != nil {
			return Message{}, err
		}
		m.QualityReply = QualityReply{PongMs: pong}
	case TagKeepAlive:
		// no body
	case TagChecksumReport:
		frame, err := r.int32()
		if err != nil {
			return Message{}, err
		}
		hi, err := r.uint64()
		if err != nil {
			return Message{}, err
		}
		lo, err := r.uint64()
		if err != nil {
			return Message{}, err
		}
		m.ChecksumReport = ChecksumReport{Frame: frame, ChecksumHi: hi, ChecksumLo: lo}
	default:
		return Message{}, fmt.Errorf("%w: unknown wire tag %d", fortress.ErrSerialization, tag)
	}

	return m, nil
}
