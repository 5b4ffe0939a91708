package radio

import "encoding/binary"

// PayloadHeaderLen is the two-byte declared-length prefix at the start
// of every payload.
const PayloadHeaderLen = 2

// EncodePayload assembles a Packet payload: a two-byte big-endian
// declared length, paddedBytes of zeroed reserved space, then the IP
// datagram itself.
func EncodePayload(datagram []byte, paddedBytes int) []byte {
	out := make([]byte, PayloadHeaderLen+paddedBytes+len(datagram))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(datagram)))
	copy(out[PayloadHeaderLen+paddedBytes:], datagram)
	return out
}

// DecodePayload extracts the declared-length datagram from a payload
// built by EncodePayload, truncating anything beyond the declared
// length. It reports ok=false if the payload is too short to contain
// even the declared-length prefix and padding, or if the declared
// length runs past the end of the buffer — both are "malformed input"
// per the error taxonomy and should be treated as a demodulator-level
// payload-invalid condition by the caller.
func DecodePayload(payload []byte, paddedBytes int) (datagram []byte, ok bool) {
	if len(payload) < PayloadHeaderLen+paddedBytes {
		return nil, false
	}
	n := int(binary.BigEndian.Uint16(payload[0:2]))
	start := PayloadHeaderLen + paddedBytes
	if start+n > len(payload) {
		return nil, false
	}
	return payload[start : start+n], true
}
