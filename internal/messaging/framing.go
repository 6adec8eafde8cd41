// Package messaging implements the topic-less publish/subscribe transport
// of spec §4.2: a Publisher binds one TCP endpoint and fans out every sent
// message to all currently-connected subscribers; a Subscriber dials one or
// more publisher endpoints and merges their messages into one blocking
// Recv(). There is no message broker process and no topic concept — every
// byte slice sent on a publisher's socket belongs to the same stream.
package messaging

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const maxFrameSize = 1 << 20 // 1 MiB, comfortably above the 64 KiB alert cap

// writeFrame writes a length-prefixed frame: a 4-byte big-endian length
// followed by payload. No ecosystem framing library appears anywhere in
// the retrieved pack, so this stdlib-only framing is the grounded choice
// (see DESIGN.md).
func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("messaging: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
