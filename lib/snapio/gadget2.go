package snapio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/particles"
)

const gadget2HeaderSize = 256

// Gadget2Header has the same layout as the header block of a Gadget-2 file.
// Particle counts and masses are indexed by Gadget particle type.
type Gadget2Header struct {
	NPart                     [6]uint32
	Mass                      [6]float64
	Time, Redshift            float64
	FlagSFR, FlagFeedback     int32
	NAll                      [6]uint32
	FlagCooling, NumFiles     int32
	Box, Omega0, OmegaLambda  float64
	HubbleParam               float64
	FlagStellarAge, FlagMetal int32
	NAllHW                    [6]uint32
	FlagEntropyICs            int32
	Empty                     [60]byte
}

func (hd *Gadget2Header) ToBytes() []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, hd)
	return buf.Bytes()
}

func (hd *Gadget2Header) BoxSize() float64 { return hd.Box }

// N returns the number of particles in the file.
func (hd *Gadget2Header) N() int {
	n := 0
	for _, np := range hd.NPart {
		n += int(np)
	}
	return n
}

// nMassBlock returns the number of particles whose masses are stored in the
// mass block instead of the header's mass table.
func (hd *Gadget2Header) nMassBlock() int {
	n := 0
	for t, np := range hd.NPart {
		if hd.Mass[t] == 0 {
			n += int(np)
		}
	}
	return n
}

// blockReader reads Fortran-style blocks: a uint32 byte count, the data, and
// the same count again.
type blockReader struct {
	r        io.Reader
	order    binary.ByteOrder
	fileName string
}

// block reads the next block, which must have one of the given sizes.
func (br *blockReader) block(name string, sizes ...int) ([]byte, error) {
	var head, foot uint32
	if err := binary.Read(br.r, br.order, &head); err != nil {
		return nil, br.truncated(name, err)
	}
	ok := false
	for _, size := range sizes {
		ok = ok || int(head) == size
	}
	if !ok {
		return nil, ddgerr.ConfigErrorf("The %s block of the Gadget-2 file "+
			"%s has %d bytes, but it should have one of %v bytes. The "+
			"file may have a different block order than POS, VEL, ID, MASS.",
			name, br.fileName, head, sizes)
	}

	data := make([]byte, head)
	if _, err := io.ReadFull(br.r, data); err != nil {
		return nil, br.truncated(name, err)
	}
	if err := binary.Read(br.r, br.order, &foot); err != nil {
		return nil, br.truncated(name, err)
	}
	if head != foot {
		return nil, ddgerr.ConfigErrorf("%s is not a valid Gadget-2 file: "+
			"the %s block starts with a size of %d but ends with %d.",
			br.fileName, name, head, foot)
	}
	return data, nil
}

func (br *blockReader) truncated(name string, err error) error {
	return ddgerr.Wrapf(ddgerr.Configuration, err,
		"reading the %s block of the Gadget-2 file %s", name, br.fileName)
}

// detectOrder works out the byte order of a file from its first integer,
// which is always the header size.
func detectOrder(first [4]byte) (binary.ByteOrder, bool) {
	switch {
	case binary.LittleEndian.Uint32(first[:]) == gadget2HeaderSize:
		return binary.LittleEndian, true
	case binary.BigEndian.Uint32(first[:]) == gadget2HeaderSize:
		return binary.BigEndian, true
	}
	return nil, false
}

// ReadGadget2 reads every particle in a Gadget-2 file. The byte order is
// detected automatically. Velocities are skipped, IDs may be 32 or 64 bits,
// and particles of a type with a zero entry in the header's mass table take
// their masses from the MASS block.
func ReadGadget2(fileName string) (*particles.Set, *Gadget2Header, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, nil, ddgerr.Wrapf(ddgerr.Configuration, err,
			"opening Gadget-2 file")
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var first [4]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, nil, ddgerr.Wrapf(ddgerr.Configuration, err,
			"reading the Gadget-2 file %s", fileName)
	}
	order, ok := detectOrder(first)
	if !ok {
		return nil, nil, ddgerr.ConfigErrorf("%s is not a valid Gadget-2 "+
			"file: the first integer should be %d in some byte order.",
			fileName, gadget2HeaderSize)
	}
	br := &blockReader{io.MultiReader(bytes.NewReader(first[:]), r),
		order, fileName}

	raw, err := br.block("header", gadget2HeaderSize)
	if err != nil {
		return nil, nil, err
	}
	hd := &Gadget2Header{}
	binary.Read(bytes.NewReader(raw), order, hd)

	n := hd.N()
	pos, err := br.block("POS", 12*n)
	if err != nil {
		return nil, nil, err
	}
	if _, err = br.block("VEL", 12*n); err != nil {
		return nil, nil, err
	}
	ids, err := br.block("ID", 4*n, 8*n)
	if err != nil {
		return nil, nil, err
	}
	var masses []byte
	if nm := hd.nMassBlock(); nm > 0 {
		if masses, err = br.block("MASS", 4*nm); err != nil {
			return nil, nil, err
		}
	}

	set := &particles.Set{
		ID: make([]uint64, n), X: make([]geom.Vec, n),
		Mass: make([]float64, n), Work: make([]float64, n),
	}
	idSize := len(ids) / max(n, 1)
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			bits := order.Uint32(pos[4*(3*i+k):])
			set.X[i][k] = float64(math.Float32frombits(bits))
		}
		if idSize == 4 {
			set.ID[i] = uint64(order.Uint32(ids[4*i:]))
		} else {
			set.ID[i] = order.Uint64(ids[8*i:])
		}
	}

	i, im := 0, 0
	for t, np := range hd.NPart {
		for j := 0; j < int(np); j++ {
			if hd.Mass[t] != 0 {
				set.Mass[i] = hd.Mass[t]
			} else {
				bits := order.Uint32(masses[4*im:])
				set.Mass[i] = float64(math.Float32frombits(bits))
				im++
			}
			i++
		}
	}

	return set, hd, set.Validate()
}

// WriteGadget2 writes set to a little-endian Gadget-2 file as type 1
// particles with zero velocities and 64-bit IDs. The mass table is used if
// every particle has the same mass.
func WriteGadget2(fileName string, set *particles.Set, boxSize float64) error {
	f, err := os.Create(fileName)
	if err != nil {
		return ddgerr.Wrap(ddgerr.Configuration, err, "creating Gadget-2 file")
	}
	w := bufio.NewWriter(f)
	if err := writeGadget2(w, binary.LittleEndian, set, boxSize); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return ddgerr.Wrap(ddgerr.Configuration, err, "writing Gadget-2 file")
	}
	return f.Close()
}

func writeGadget2(
	w io.Writer, order binary.ByteOrder, set *particles.Set, boxSize float64,
) error {
	n := set.Len()
	hd := &Gadget2Header{Box: boxSize, NumFiles: 1, Time: 1}
	hd.NPart[1], hd.NAll[1] = uint32(n), uint32(n)
	hd.NAllHW[1] = uint32(uint64(n) >> 32)

	uniform := n > 0 && set.Mass[0] != 0
	for i := 1; i < n && uniform; i++ {
		uniform = set.Mass[i] == set.Mass[0]
	}
	if uniform {
		hd.Mass[1] = set.Mass[0]
	}

	hdBuf := &bytes.Buffer{}
	binary.Write(hdBuf, order, hd)

	pos := make([]byte, 12*n)
	ids := make([]byte, 8*n)
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			bits := math.Float32bits(float32(set.X[i][k]))
			order.PutUint32(pos[4*(3*i+k):], bits)
		}
		order.PutUint64(ids[8*i:], set.ID[i])
	}

	blocks := [][]byte{hdBuf.Bytes(), pos, make([]byte, 12*n), ids}
	if !uniform && n > 0 {
		masses := make([]byte, 4*n)
		for i := range set.Mass {
			order.PutUint32(masses[4*i:], math.Float32bits(float32(set.Mass[i])))
		}
		blocks = append(blocks, masses)
	}

	for _, b := range blocks {
		size := uint32(len(b))
		if err := binary.Write(w, order, size); err != nil {
			return ddgerr.Wrap(ddgerr.Configuration, err, "writing Gadget-2 file")
		}
		if _, err := w.Write(b); err != nil {
			return ddgerr.Wrap(ddgerr.Configuration, err, "writing Gadget-2 file")
		}
		if err := binary.Write(w, order, size); err != nil {
			return ddgerr.Wrap(ddgerr.Configuration, err, "writing Gadget-2 file")
		}
	}
	return nil
}
