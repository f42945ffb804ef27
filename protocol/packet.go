// Package protocol implements the AUD0 wire format for PCM16 audio packets.
//
// Every packet carries a fixed 28-byte little-endian header followed by an
// interleaved PCM16LE payload. The same layout is used on UDP (one packet
// per datagram) and TCP (each packet preceded by a 2-byte little-endian
// length prefix).
//
// Example:
//
//	frame, err := protocol.Parse(datagram)
//	if err != nil {
//	    // malformed packet, count and drop
//	}
package protocol

import (
	"encoding/binary"
	"errors"
)

// Header layout, offsets in bytes:
//
//	0  4  magic "AUD0"
//	4  1  version (1)
//	5  1  codec (0 = PCM16LE)
//	6  1  channels (1 or 2)
//	7  1  reserved
//	8  4  sample rate (Hz)
//	12 4  sequence number
//	16 8  sender unix time (microseconds)
//	24 2  samples per channel
//	26 2  payload length (bytes)
const (
	// HeaderSize is the fixed packet header length in bytes.
	HeaderSize = 28
	// Version is the only wire format version this codec accepts.
	Version = 1
	// CodecPCM16 identifies raw little-endian signed 16-bit PCM payloads.
	CodecPCM16 = 0
	// MaxPayloadBytes is the largest payload expressible in the 16-bit
	// payload length field. It also bounds the TCP length prefix.
	MaxPayloadBytes = 65535
)

var magic = [4]byte{'A', 'U', 'D', '0'}

// Parse reject reasons. Callers classify rejects with errors.Is; all of
// them map to the parse error counter.
var (
	ErrTooShort        = errors.New("packet shorter than header")
	ErrBadMagic        = errors.New("bad magic bytes")
	ErrBadVersion      = errors.New("unsupported version")
	ErrBadCodec        = errors.New("unsupported codec")
	ErrBadChannels     = errors.New("channel count must be 1 or 2")
	ErrBadPayloadLen   = errors.New("invalid payload length")
	ErrTruncated       = errors.New("payload truncated")
	ErrPayloadMismatch = errors.New("payload length does not match sample count")
)

// Frame is one successfully parsed audio packet.
//
// Samples holds samples_per_channel x channels interleaved signed 16-bit
// samples. The slice is owned by the frame; Parse never aliases the input
// buffer, so the caller may reuse its receive buffer immediately.
type Frame struct {
	SampleRate        uint32
	Channels          uint8
	Seq               uint32
	SendTimeUs        int64
	SamplesPerChannel int
	Samples           []int16
}

// Parse decodes a byte buffer into a Frame.
//
// It returns one of the Err* sentinels when the buffer is not a valid AUD0
// packet. Accepted frames always satisfy
// len(Samples) == SamplesPerChannel * Channels.
//
// Parsing performs no I/O and allocates only the returned frame and its
// sample slice; rejects allocate nothing.
func Parse(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooShort
	}
	if data[0] != magic[0] || data[1] != magic[1] || data[2] != magic[2] || data[3] != magic[3] {
		return nil, ErrBadMagic
	}
	if data[4] != Version {
		return nil, ErrBadVersion
	}
	if data[5] != CodecPCM16 {
		return nil, ErrBadCodec
	}
	channels := data[6]
	if channels != 1 && channels != 2 {
		return nil, ErrBadChannels
	}

	sampleRate := binary.LittleEndian.Uint32(data[8:12])
	seq := binary.LittleEndian.Uint32(data[12:16])
	sendTimeUs := int64(binary.LittleEndian.Uint64(data[16:24]))
	samplesPerChannel := int(binary.LittleEndian.Uint16(data[24:26]))
	payloadLen := int(binary.LittleEndian.Uint16(data[26:28]))

	if payloadLen <= 0 || payloadLen%2 != 0 {
		return nil, ErrBadPayloadLen
	}
	if HeaderSize+payloadLen > len(data) {
		return nil, ErrTruncated
	}
	if samplesPerChannel <= 0 || payloadLen != samplesPerChannel*int(channels)*2 {
		return nil, ErrPayloadMismatch
	}

	payload := data[HeaderSize : HeaderSize+payloadLen]
	samples := make([]int16, payloadLen/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}

	return &Frame{
		SampleRate:        sampleRate,
		Channels:          channels,
		Seq:               seq,
		SendTimeUs:        sendTimeUs,
		SamplesPerChannel: samplesPerChannel,
		Samples:           samples,
	}, nil
}

// Encode serializes a frame into a wire packet.
//
// It is the inverse of Parse and mirrors the sender's packet builder. The
// frame must satisfy the same range checks Parse enforces.
func Encode(f *Frame) ([]byte, error) {
	if f.Channels != 1 && f.Channels != 2 {
		return nil, ErrBadChannels
	}
	if f.SamplesPerChannel <= 0 {
		return nil, ErrBadPayloadLen
	}
	payloadLen := f.SamplesPerChannel * int(f.Channels) * 2
	if payloadLen > MaxPayloadBytes {
		return nil, ErrBadPayloadLen
	}
	if len(f.Samples) != f.SamplesPerChannel*int(f.Channels) {
		return nil, ErrPayloadMismatch
	}

	packet := make([]byte, HeaderSize+payloadLen)
	copy(packet[0:4], magic[:])
	packet[4] = Version
	packet[5] = CodecPCM16
	packet[6] = f.Channels
	packet[7] = 0
	binary.LittleEndian.PutUint32(packet[8:12], f.SampleRate)
	binary.LittleEndian.PutUint32(packet[12:16], f.Seq)
	binary.LittleEndian.PutUint64(packet[16:24], uint64(f.SendTimeUs))
	binary.LittleEndian.PutUint16(packet[24:26], uint16(f.SamplesPerChannel))
	binary.LittleEndian.PutUint16(packet[26:28], uint16(payloadLen))
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(packet[HeaderSize+i*2:], uint16(s))
	}
	return packet, nil
}

// FrameMs returns the playout duration of the frame in milliseconds,
// never less than 1.
func (f *Frame) FrameMs() int {
	if f.SampleRate == 0 {
		return 1
	}
	ms := f.SamplesPerChannel * 1000 / int(f.SampleRate)
	if ms < 1 {
		return 1
	}
	return ms
}

// PayloadSamples returns the expected interleaved sample count for the
// frame's format.
func (f *Frame) PayloadSamples() int {
	return f.SamplesPerChannel * int(f.Channels)
}
