package comm

/* frame.go contains the wire format of the tcp backend. Each message is an
8-byte header followed by the payload:

  [0:4] payload length in bytes (uint32, little endian)
  [4]   tag
  [5]   flags
  [6:8] unused

Payloads of at least compressThreshold bytes may be zstd compressed, which is
marked with flagZstd. */

import (
	"encoding/binary"
	"io"

	"github.com/DataDog/zstd"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

const (
	frameHeaderSize = 8
	maxFrameSize    = 1 << 30

	flagZstd = 1 << 0

	// DefaultCompressThreshold is the smallest payload worth compressing.
	DefaultCompressThreshold = 4096
	zstdLevel                = 1
)

type frame struct {
	tag     tag
	payload []byte
}

// writeFrame writes one message to w. If threshold > 0, payloads at least
// that large are compressed when compression actually shrinks them.
func writeFrame(w io.Writer, t tag, payload []byte, threshold int) error {
	flags := byte(0)
	if threshold > 0 && len(payload) >= threshold {
		comp, err := zstd.CompressLevel(nil, payload, zstdLevel)
		if err != nil {
			return ddgerr.Wrap(ddgerr.Transport, err, "compressing frame")
		}
		if len(comp) < len(payload) {
			payload, flags = comp, flagZstd
		}
	}
	if len(payload) > maxFrameSize {
		return ddgerr.TransportErrorf("Frame of %d bytes is larger than the "+
			"%d byte limit.", len(payload), maxFrameSize)
	}

	buf := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(payload)))
	buf[4], buf[5] = byte(t), flags
	copy(buf[frameHeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return ddgerr.Wrap(ddgerr.Transport, err, "writing frame")
	}
	return nil
}

// readFrame reads one message from r.
func readFrame(r io.Reader) (frame, error) {
	var hd [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hd[:]); err != nil {
		return frame{}, ddgerr.Wrap(ddgerr.Transport, err, "reading frame header")
	}

	n := binary.LittleEndian.Uint32(hd[0:])
	t, flags := tag(hd[4]), hd[5]
	if n > maxFrameSize {
		return frame{}, ddgerr.TransportErrorf("Malformed frame: length %d "+
			"is larger than the %d byte limit.", n, maxFrameSize)
	} else if t >= numTags {
		return frame{}, ddgerr.TransportErrorf("Malformed frame: unknown "+
			"tag %d.", t)
	} else if flags&^flagZstd != 0 {
		return frame{}, ddgerr.TransportErrorf("Malformed frame: unknown "+
			"flags 0x%x.", flags)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, ddgerr.Wrap(ddgerr.Transport, err, "reading frame body")
	}

	if flags&flagZstd != 0 {
		raw, err := zstd.Decompress(nil, payload)
		if err != nil {
			return frame{}, ddgerr.Wrap(ddgerr.Transport, err,
				"decompressing frame")
		}
		payload = raw
	}
	return frame{t, payload}, nil
}
