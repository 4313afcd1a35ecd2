package ir

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/cratemap/cratemap/pkg/errors"
)

// Binary layout, all integers big-endian:
//
//	magic "CMBC" | u16 version | str module path | u32 nfuncs
//	per function: str linkage | u8 flags | u32 ncalls
//	per call:     u8 kind | str target (empty for indirect)
//
// where str is a u16 length prefix followed by that many bytes.

const (
	flagExported = 1 << 0
	flagGeneric  = 1 << 1
)

// maxCount bounds the declared function and call counts. Artifacts are
// untrusted; a forged count must not drive a multi-gigabyte allocation
// before the truncation is noticed.
const maxCount = 1 << 22

type binReader struct {
	buf *bytes.Reader
}

func (r *binReader) u8() (byte, error) {
	b, err := r.buf.ReadByte()
	if err != nil {
		return 0, errors.New(errors.ErrCodeParse, "truncated artifact")
	}
	return b, nil
}

func (r *binReader) u16() (uint16, error) {
	var b [2]byte
	if n, err := r.buf.Read(b[:]); err != nil || n != 2 {
		return 0, errors.New(errors.ErrCodeParse, "truncated artifact")
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (r *binReader) u32() (uint32, error) {
	var b [4]byte
	if n, err := r.buf.Read(b[:]); err != nil || n != 4 {
		return 0, errors.New(errors.ErrCodeParse, "truncated artifact")
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (r *binReader) str() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	if int(n) > r.buf.Len() {
		return "", errors.New(errors.ErrCodeParse, "truncated string")
	}
	b := make([]byte, n)
	if _, err := r.buf.Read(b); err != nil {
		return "", errors.New(errors.ErrCodeParse, "truncated string")
	}
	return string(b), nil
}

func parseBinary(data []byte) (*Module, error) {
	r := &binReader{buf: bytes.NewReader(data[len(binaryMagic):])}

	version, err := r.u16()
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, errors.New(errors.ErrCodeUnsupportedIR, "cmbc version %d (supported: %d)", version, FormatVersion)
	}

	m := &Module{}
	if m.Path, err = r.str(); err != nil {
		return nil, err
	}

	nfuncs, err := r.u32()
	if err != nil {
		return nil, err
	}
	if nfuncs > maxCount {
		return nil, errors.New(errors.ErrCodeParse, "implausible function count %d", nfuncs)
	}

	for i := uint32(0); i < nfuncs; i++ {
		var fn Function
		if fn.Linkage, err = r.str(); err != nil {
			return nil, err
		}
		flags, err := r.u8()
		if err != nil {
			return nil, err
		}
		fn.Exported = flags&flagExported != 0
		fn.Generic = flags&flagGeneric != 0

		ncalls, err := r.u32()
		if err != nil {
			return nil, err
		}
		if ncalls > maxCount {
			return nil, errors.New(errors.ErrCodeParse, "implausible call count %d", ncalls)
		}

		for j := uint32(0); j < ncalls; j++ {
			kind, err := r.u8()
			if err != nil {
				return nil, err
			}
			if kind > byte(KindIndirect) {
				return nil, errors.New(errors.ErrCodeParse, "unknown call kind %d", kind)
			}
			target, err := r.str()
			if err != nil {
				return nil, err
			}
			cs := CallSite{Kind: CallKind(kind), Target: target}
			if cs.Kind == KindIndirect && cs.Target != "" {
				return nil, errors.New(errors.ErrCodeParse, "indirect call with target")
			}
			fn.Calls = append(fn.Calls, cs)
		}
		m.Functions = append(m.Functions, fn)
	}

	if r.buf.Len() != 0 {
		return nil, errors.New(errors.ErrCodeParse, "%d trailing bytes", r.buf.Len())
	}
	return m, nil
}

// EncodeBinary serializes a module into the binary artifact form. The
// encoder exists for fixtures and round-trip tests; the analyzer itself
// only consumes artifacts. Strings longer than the u16 length prefix can
// represent are rejected rather than silently truncated.
func EncodeBinary(m *Module) ([]byte, error) {
	var b bytes.Buffer
	b.Write(binaryMagic)
	writeU16(&b, FormatVersion)
	if err := writeStr(&b, m.Path); err != nil {
		return nil, err
	}
	writeU32(&b, uint32(len(m.Functions)))
	for _, fn := range m.Functions {
		if err := writeStr(&b, fn.Linkage); err != nil {
			return nil, err
		}
		var flags byte
		if fn.Exported {
			flags |= flagExported
		}
		if fn.Generic {
			flags |= flagGeneric
		}
		b.WriteByte(flags)
		writeU32(&b, uint32(len(fn.Calls)))
		for _, cs := range fn.Calls {
			b.WriteByte(byte(cs.Kind))
			if err := writeStr(&b, cs.Target); err != nil {
				return nil, err
			}
		}
	}
	return b.Bytes(), nil
}

func writeU16(b *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func writeU32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func writeStr(b *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return errors.New(errors.ErrCodeParse, "string of %d bytes exceeds the u16 length prefix", len(s))
	}
	writeU16(b, uint16(len(s)))
	b.WriteString(s)
	return nil
}
