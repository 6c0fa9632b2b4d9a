package comm

/* exchange.go contains Exchange, the all-to-all transfer of variable-length
records between ranks. It's used for particle migration and for remote tree
node requests. */

import (
	"context"
	"encoding/binary"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// Records is a sequence of opaque, variable-length records.
type Records [][]byte

// Len returns the number of records.
func (rec Records) Len() int { return len(rec) }

// Bytes returns the total size of the records' contents.
func (rec Records) Bytes() int {
	n := 0
	for _, r := range rec {
		n += len(r)
	}
	return n
}

const countsSize = 16

// Exchange delivers out[r] to rank r for every r and returns in, where in[r]
// holds the records rank r sent to this rank in the order they were sent.
// len(out) must equal c.Size(), and out[r] may be nil. Every rank must call
// Exchange, including ranks with nothing to send.
//
// Ranks first tell each other how many records and bytes they'll send, then
// send payloads only to ranks expecting a non-zero amount. Records sent to
// the calling rank are copied locally. All of this happens on a tag of its
// own, so messages sent with c.Send are left alone.
func Exchange(
	ctx context.Context, c Communicator, out []Records,
) ([]Records, error) {
	rank, size := c.Rank(), c.Size()
	if len(out) != size {
		return nil, ddgerr.ConfigErrorf("Exchange given records for %d "+
			"ranks in a run with %d ranks.", len(out), size)
	}

	payloads := make([][]byte, size)
	for r := range out {
		payloads[r] = packRecords(out[r])
	}

	a2a, native := c.(AllToAller)
	tr, ok := c.(transport)
	if native {
		recv, err := a2a.AllToAll(ctx, payloads)
		if err != nil {
			return nil, err
		}
		in := make([]Records, size)
		for r := range recv {
			if in[r], err = unpackRecords(recv[r], -1, r); err != nil {
				return nil, err
			}
		}
		return in, nil
	} else if !ok {
		return nil, ddgerr.ConfigErrorf("Exchange can't run over a %T: it "+
			"needs a backend with a native all-to-all or internal message "+
			"tags.", c)
	}

	// Phase one: counts.
	for _, r := range OtherRanks(c) {
		var counts [countsSize]byte
		binary.LittleEndian.PutUint64(counts[0:], uint64(len(out[r])))
		binary.LittleEndian.PutUint64(counts[8:], uint64(len(payloads[r])))
		if err := tr.send(ctx, r, tagExchange, counts[:]); err != nil {
			return nil, err
		}
	}

	nRecords, nBytes := make([]int, size), make([]int, size)
	for _, r := range OtherRanks(c) {
		counts, err := tr.recv(ctx, r, tagExchange)
		if err != nil {
			return nil, err
		}
		if len(counts) != countsSize {
			return nil, ddgerr.TransportErrorf("Malformed exchange header "+
				"from rank %d: %d bytes.", r, len(counts))
		}
		nRecords[r] = int(binary.LittleEndian.Uint64(counts[0:]))
		nBytes[r] = int(binary.LittleEndian.Uint64(counts[8:]))
	}

	// Phase two: payloads.
	for _, r := range OtherRanks(c) {
		if len(out[r]) == 0 {
			continue
		}
		if err := tr.send(ctx, r, tagExchange, payloads[r]); err != nil {
			return nil, err
		}
	}

	in := make([]Records, size)
	var err error
	if in[rank], err = unpackRecords(payloads[rank], len(out[rank]), rank); err != nil {
		return nil, err
	}
	for _, r := range OtherRanks(c) {
		if nRecords[r] == 0 {
			continue
		}
		b, err := tr.recv(ctx, r, tagExchange)
		if err != nil {
			return nil, err
		}
		if len(b) != nBytes[r] {
			return nil, ddgerr.TransportErrorf("Rank %d announced %d bytes "+
				"of records but sent %d.", r, nBytes[r], len(b))
		}
		if in[r], err = unpackRecords(b, nRecords[r], r); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// packRecords concatenates records, each preceded by a uint32 length.
func packRecords(rec Records) []byte {
	buf := make([]byte, 0, 4*len(rec)+rec.Bytes())
	var n [4]byte
	for _, r := range rec {
		binary.LittleEndian.PutUint32(n[:], uint32(len(r)))
		buf = append(buf, n[:]...)
		buf = append(buf, r...)
	}
	return buf
}

// unpackRecords reverses packRecords. If want >= 0, the buffer must hold
// exactly that many records. The returned records don't alias b.
func unpackRecords(b []byte, want, src int) (Records, error) {
	b = append([]byte{}, b...)
	rec := Records{}
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, ddgerr.TransportErrorf("Truncated record length "+
				"from rank %d.", src)
		}
		n := int(binary.LittleEndian.Uint32(b))
		b = b[4:]
		if n > len(b) {
			return nil, ddgerr.TransportErrorf("Record from rank %d claims "+
				"%d bytes but only %d remain.", src, n, len(b))
		}
		rec, b = append(rec, b[:n:n]), b[n:]
	}
	if want >= 0 && len(rec) != want {
		return nil, ddgerr.TransportErrorf("Rank %d announced %d records "+
			"but sent %d.", src, want, len(rec))
	}
	return rec, nil
}
