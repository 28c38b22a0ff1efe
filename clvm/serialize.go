package clvm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
)

// Program is the serialized byte form of a CLVM value, as it travels over
// the wire and into puzzle reveals and solutions.
type Program = chain.Program

// Serialization follows the chain's standard CLVM atom/pair prefix scheme:
//
//	0x80             -> nil / empty atom
//	0x00-0x7f        -> single-byte atom (the byte itself)
//	0x81-0xbf        -> short atom, length = byte-0x80, bytes follow
//	0xc0-0xdf + 1    -> length in the prefix's low 5 bits and one more byte (written for lengths < 0x400)
//	0xe0 + 2 bytes   -> 16-bit big-endian length
//	0xf0 + 4 bytes   -> 32-bit big-endian length
//	0xff             -> cons cell: First (serialized) followed by Rest (serialized)
const (
	maxSingleByte  = 0x7f
	consPrefix     = 0xff
	nilPrefix      = 0x80
	shortAtomBase  = 0x80
	shortAtomLimit = 0x40 // lengths 0..0x3f use the short form
)

// Serialize encodes a Value into the chain's canonical CLVM byte format.
func Serialize(v Value) Program {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v Value) {
	if v.Pair != nil {
		buf.WriteByte(consPrefix)
		writeValue(buf, v.Pair.First)
		writeValue(buf, v.Pair.Rest)
		return
	}
	writeAtom(buf, v.Atom)
}

func writeAtom(buf *bytes.Buffer, atom []byte) {
	if len(atom) == 0 {
		buf.WriteByte(nilPrefix)
		return
	}
	if len(atom) == 1 && atom[0] <= maxSingleByte {
		buf.WriteByte(atom[0])
		return
	}
	n := len(atom)
	switch {
	case n < shortAtomLimit:
		buf.WriteByte(byte(shortAtomBase | n))
	case n < 0x400:
		buf.WriteByte(byte(0xc0 | (n >> 8)))
		buf.WriteByte(byte(n))
	case n < 0x10000:
		buf.WriteByte(0xe0)
		buf.WriteByte(byte(n >> 8))
		buf.WriteByte(byte(n))
	default:
		buf.WriteByte(0xf0)
		buf.WriteByte(byte(n >> 24))
		buf.WriteByte(byte(n >> 16))
		buf.WriteByte(byte(n >> 8))
		buf.WriteByte(byte(n))
	}
	buf.Write(atom)
}

// Deserialize decodes a Program back into a Value tree.
func Deserialize(p Program) (Value, error) {
	r := bufio.NewReader(bytes.NewReader(p))
	v, err := readValue(r)
	if err != nil {
		return Value{}, err
	}
	if r.Buffered() > 0 {
		// trailing bytes after a complete value are tolerated: puzzle
		// reveals are sometimes padded by transport framing.
		return v, nil
	}
	return v, nil
}

func readValue(r *bufio.Reader) (Value, error) {
	b, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	switch {
	case b == consPrefix:
		first, err := readValue(r)
		if err != nil {
			return Value{}, err
		}
		rest, err := readValue(r)
		if err != nil {
			return Value{}, err
		}
		return Cons(first, rest), nil
	case b == nilPrefix:
		return Nil, nil
	case b <= maxSingleByte:
		return Atom([]byte{b}), nil
	case b < 0xc0:
		n := int(b &^ shortAtomBase)
		return readAtomBytes(r, n)
	case b < 0xe0:
		b2, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		n := int(b&^0xc0)<<8 | int(b2)
		return readAtomBytes(r, n)
	case b == 0xe0:
		hi, _ := r.ReadByte()
		lo, _ := r.ReadByte()
		return readAtomBytes(r, int(hi)<<8|int(lo))
	case b == 0xf0:
		var n int
		for i := 0; i < 4; i++ {
			c, err := r.ReadByte()
			if err != nil {
				return Value{}, err
			}
			n = n<<8 | int(c)
		}
		return readAtomBytes(r, n)
	default:
		return Value{}, fmt.Errorf("clvm: unsupported atom length prefix 0x%02x", b)
	}
}

func readAtomBytes(r *bufio.Reader, n int) (Value, error) {
	if n < 0 || n > 1<<24 {
		return Value{}, errors.New("clvm: atom length out of range")
	}
	buf := make([]byte, n)
	if _, err := ioReadFull(r, buf); err != nil {
		return Value{}, err
	}
	return Atom(buf), nil
}

func ioReadFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TreeHash computes the CLVM "sha256tree" hash used to identify curried
// puzzles, inner puzzles and metadata blobs without fully serializing them.
// Atoms hash as sha256(0x01 || atom); pairs hash as
// sha256(0x02 || hash(first) || hash(rest)).
func TreeHash(v Value) chain.Hash {
	if v.IsAtom() {
		return chain.Sha256([]byte{0x01}, v.Atom)
	}
	left := TreeHash(v.Pair.First)
	right := TreeHash(v.Pair.Rest)
	return chain.Sha256([]byte{0x02}, left[:], right[:])
}
