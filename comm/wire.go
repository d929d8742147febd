package comm

// Control bytes sit below the printable range so ordinary payload content
// never collides with them. 0x05..0x09 stay reserved for future marker
// types; frames starting with one of those are dropped without complaint
// so newer peers can extend the protocol.
const (
	ctlEscape byte = 0x01 // single-part payload whose first byte is reserved
	ctlFirst  byte = 0x02 // first chunk of a multipart message
	ctlNext   byte = 0x03 // continuation chunk
	ctlLast   byte = 0x04 // final chunk
	ctlMax    byte = 0x09 // top of the reserved marker space
)

func isReserved(b byte) bool {
	return b >= ctlEscape && b <= ctlMax
}

// fragment splits a payload into wire frames of at most maxFrame bytes.
// Three shapes come out:
//
//   - payload fits and its first byte is unreserved: one verbatim frame
//   - payload fits with one extra byte: ESCAPE prefix, one frame
//   - otherwise: chunks of maxFrame-1 bytes, the spare byte carrying
//     FIRST/NEXT/LAST
//
// The verbatim single-frame shape aliases the input slice; callers must
// not mutate the payload until every frame is resolved.
func fragment(payload []byte, maxFrame int) [][]byte {
	if len(payload) <= maxFrame && (len(payload) == 0 || !isReserved(payload[0])) {
		return [][]byte{payload}
	}
	if len(payload)+1 <= maxFrame {
		escaped := make([]byte, 0, len(payload)+1)
		escaped = append(escaped, ctlEscape)
		escaped = append(escaped, payload...)
		return [][]byte{escaped}
	}

	chunk := maxFrame - 1
	frames := make([][]byte, 0, (len(payload)+chunk-1)/chunk)
	for off := 0; off < len(payload); off += chunk {
		end := off + chunk
		marker := ctlNext
		if off == 0 {
			marker = ctlFirst
		}
		if end >= len(payload) {
			end = len(payload)
			marker = ctlLast
		}
		frame := make([]byte, 0, 1+end-off)
		frame = append(frame, marker)
		frame = append(frame, payload[off:end]...)
		frames = append(frames, frame)
	}
	return frames
}
