// Package image defines the on-disk and in-memory layout produced by the
// assembler and consumed by the VM loader: a code segment, a data segment,
// an entry offset, and a symbol table.
package image

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Section identifies which segment a symbol points into.
type Section uint8

const (
	SectionCode Section = 0
	SectionData Section = 1
)

func (s Section) String() string {
	if s == SectionData {
		return "data"
	}
	return "code"
}

// Symbol is a named location in either the code or data segment, retained
// for disassembly and the debugger.
type Symbol struct {
	Name    string
	Section Section
	Offset  uint32
}

// Image is the assembler's output: header fields plus the code and data
// bytes and the symbol table.
type Image struct {
	EntryOffset uint32
	Code        []byte
	Data        []byte
	Symbols     []Symbol
}

const (
	magic       = "STKB"
	version     = uint32(1)
	headerBytes = 4 + 4 + 4 + 4 + 4 + 4 // magic + version + entry + codeLen + dataLen + symCount
)

var (
	// ErrBadMagic is returned by Decode when the header magic doesn't match.
	ErrBadMagic = errors.New("BAD_MAGIC")
	// ErrBadVersion is returned by Decode when the header version is unsupported.
	ErrBadVersion = errors.New("BAD_VERSION")
	// ErrTruncated is returned by Decode when the body is shorter than the header promises.
	ErrTruncated = errors.New("TRUNCATED")
)

// SymbolByName returns the symbol with the given name, if any.
func (img *Image) SymbolByName(name string) (Symbol, bool) {
	for _, s := range img.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// SymbolAt returns the symbol (if any) whose section+offset exactly matches.
func (img *Image) SymbolAt(section Section, offset uint32) (Symbol, bool) {
	for _, s := range img.Symbols {
		if s.Section == section && s.Offset == offset {
			return s, true
		}
	}
	return Symbol{}, false
}

// Encode writes the little-endian image format described in spec §6:
// header (magic, version, entry_offset, code_len, data_len, symbol_count),
// then code bytes, data bytes, then symbol_count entries of
// {name_len:u16, name, section:u8, offset:u32}.
func Encode(w io.Writer, img *Image) error {
	hdr := make([]byte, headerBytes)
	copy(hdr[0:4], magic)
	binary.LittleEndian.PutUint32(hdr[4:8], version)
	binary.LittleEndian.PutUint32(hdr[8:12], img.EntryOffset)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(img.Code)))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(img.Data)))
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(img.Symbols)))

	if _, err := w.Write(hdr); err != nil {
		return errors.Wrap(err, "write header")
	}
	if _, err := w.Write(img.Code); err != nil {
		return errors.Wrap(err, "write code")
	}
	if _, err := w.Write(img.Data); err != nil {
		return errors.Wrap(err, "write data")
	}

	for _, sym := range img.Symbols {
		nameBytes := []byte(sym.Name)
		entry := make([]byte, 2+len(nameBytes)+1+4)
		binary.LittleEndian.PutUint16(entry[0:2], uint16(len(nameBytes)))
		copy(entry[2:2+len(nameBytes)], nameBytes)
		entry[2+len(nameBytes)] = byte(sym.Section)
		binary.LittleEndian.PutUint32(entry[3+len(nameBytes):], sym.Offset)
		if _, err := w.Write(entry); err != nil {
			return errors.Wrapf(err, "write symbol %q", sym.Name)
		}
	}

	return nil
}

// Decode reads an image produced by Encode.
func Decode(r io.Reader) (*Image, error) {
	hdr := make([]byte, headerBytes)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, errors.Wrap(ErrTruncated, err.Error())
	}

	if string(hdr[0:4]) != magic {
		return nil, ErrBadMagic
	}
	if binary.LittleEndian.Uint32(hdr[4:8]) != version {
		return nil, ErrBadVersion
	}

	img := &Image{EntryOffset: binary.LittleEndian.Uint32(hdr[8:12])}
	codeLen := binary.LittleEndian.Uint32(hdr[12:16])
	dataLen := binary.LittleEndian.Uint32(hdr[16:20])
	symCount := binary.LittleEndian.Uint32(hdr[20:24])

	img.Code = make([]byte, codeLen)
	if _, err := io.ReadFull(r, img.Code); err != nil {
		return nil, errors.Wrap(ErrTruncated, "code")
	}

	img.Data = make([]byte, dataLen)
	if _, err := io.ReadFull(r, img.Data); err != nil {
		return nil, errors.Wrap(ErrTruncated, "data")
	}

	img.Symbols = make([]Symbol, 0, symCount)
	for i := uint32(0); i < symCount; i++ {
		lenBuf := make([]byte, 2)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return nil, errors.Wrap(ErrTruncated, "symbol name length")
		}
		nameLen := binary.LittleEndian.Uint16(lenBuf)

		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return nil, errors.Wrap(ErrTruncated, "symbol name")
		}

		rest := make([]byte, 5)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, errors.Wrap(ErrTruncated, "symbol body")
		}

		img.Symbols = append(img.Symbols, Symbol{
			Name:    string(nameBuf),
			Section: Section(rest[0]),
			Offset:  binary.LittleEndian.Uint32(rest[1:5]),
		})
	}

	return img, nil
}
