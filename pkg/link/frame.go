package link

import (
	"bufio"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

const (
	syncByte = 0xaa

	FrameConfig    byte = 0x01
	FrameTelemetry byte = 0x02
	FrameSubscribe byte = 0x03
	FrameBye       byte = 0x04

	maxPayload = 255
	// No frame we understand carries more than a config record, so a longer
	// length byte means the header is corrupt.
	maxReadPayload = ConfigLen
)

var (
	ErrBadChecksum  = errors.New("bad frame checksum")
	ErrBadFrameSize = errors.New("frame length out of range")
)

// Frame is one message on the serial link.  On the wire it is
//
//	0xaa 0xaa type len payload... checksum
//
// where the checksum is the byte sum of type, len and payload.
type Frame struct {
	Type    byte
	Payload []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("frame(type=%#02x, %x)", f.Type, f.Payload)
}

func (f Frame) checksum() byte {
	sum := f.Type + byte(len(f.Payload))
	for _, b := range f.Payload {
		sum += b
	}
	return sum
}

func (f Frame) MarshalBinary() ([]byte, error) {
	if len(f.Payload) > maxPayload {
		return nil, errors.Errorf("payload too long: %d bytes", len(f.Payload))
	}
	buf := make([]byte, 0, len(f.Payload)+5)
	buf = append(buf, syncByte, syncByte, f.Type, byte(len(f.Payload)))
	buf = append(buf, f.Payload...)
	buf = append(buf, f.checksum())
	return buf, nil
}

// FrameReader pulls frames out of a byte stream, skipping anything before the
// next sync marker.
type FrameReader struct {
	br *bufio.Reader
	// Bytes discarded while looking for sync.
	Skipped uint64
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{br: bufio.NewReader(r)}
}

// ReadFrame returns the next frame.  A frame that fails its checksum is
// consumed and reported as ErrBadChecksum; the next call resynchronises.
func (r *FrameReader) ReadFrame() (Frame, error) {
	for {
		buf, err := r.br.Peek(2)
		if err != nil {
			return Frame{}, errors.Wrap(err, "failed to read from link")
		}
		if buf[0] == syncByte && buf[1] == syncByte {
			break
		}
		if _, err := r.br.Discard(1); err != nil {
			return Frame{}, errors.Wrap(err, "failed to read from link")
		}
		r.Skipped++
	}
	if _, err := r.br.Discard(2); err != nil {
		return Frame{}, errors.Wrap(err, "failed to read from link")
	}

	var hdr [2]byte
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		return Frame{}, errors.Wrap(err, "failed to read frame header")
	}
	if hdr[1] > maxReadPayload {
		// Leave the rest in the buffer; resyncing finds the next frame.
		return Frame{}, errors.Wrapf(ErrBadFrameSize, "%d byte payload", hdr[1])
	}
	body := make([]byte, int(hdr[1])+1)
	if _, err := io.ReadFull(r.br, body); err != nil {
		return Frame{}, errors.Wrap(err, "failed to read frame body")
	}
	f := Frame{Type: hdr[0], Payload: body[:hdr[1]]}
	if got, expected := body[hdr[1]], f.checksum(); got != expected {
		return Frame{}, errors.Wrapf(ErrBadChecksum, "%x != %x", got, expected)
	}
	return f, nil
}
