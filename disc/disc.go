// Package disc builds Acorn DFS (Disc Filing System) single-sided
// disc images: 200 KiB, 800 256-byte sectors, with a two-sector
// catalogue at the start describing up to 31 files.
//
// Grounded on original_source/src/discimage.cpp for the catalogue
// bit-packing and AddFile algorithm; the constructor's read-before-
// write discipline (REDESIGN FLAGS "DFS write order") is kept as a
// documented invariant of Open/Save so that an input path equal to the
// output path is always safe.
package disc

import (
	"fmt"
	"io"
)

const (
	sectorSize    = 256
	catalogueSize = 2 * sectorSize
	totalSectors  = 800 // 0x320, 200 KiB
	maxFiles      = 31
)

// Error reports a disc-packaging failure (spec §7 kind 3): disc full,
// catalogue full, duplicate file, or bad file name.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "disc image: " + e.Reason }

// Image is an in-progress Acorn DFS disc image.
type Image struct {
	buf []byte
}

// New starts a blank disc image with the given title (up to 12
// characters) and disc option (0-3, stored in bits 4-5 of catalogue
// byte 0x106, whose low two bits hold the high bits of the sector
// count). If bootFile is non-empty, a `!Boot` file is
// pre-installed containing `*BASIC\r*RUN <bootFile>\r`, and the
// stored OPT is forced to 3 (Exec on boot) regardless of discOption.
func New(title string, discOption int, bootFile string) (*Image, error) {
	img := &Image{buf: make([]byte, catalogueSize)}
	img.buf[0x106] = 0x03 | byte((discOption&3)<<4)
	img.buf[0x107] = 0x20

	if len(title) > 8 {
		copy(img.buf[0:8], title[:8])
		rest := title[8:]
		if len(rest) > 4 {
			rest = rest[:4]
		}
		copy(img.buf[0x100:0x104], rest)
	} else {
		copy(img.buf[0:len(title)], title)
	}

	if bootFile != "" {
		boot := "*BASIC\r*RUN " + bootFile + "\r"
		if err := img.AddFile("!Boot", []byte(boot), 0, 0xFFFFFF); err != nil {
			return nil, err
		}
		img.buf[0x106] = 0x33
	}
	return img, nil
}

// Open reads an existing disc image's catalogue and the sectors used
// by its cataloged files, discarding any sectors beyond the last
// file (the original's behaviour: only the live portion of the image
// is retained). The full input is read here, before any output file
// is opened by a later Save, so that a caller may safely use the same
// path for input and output.
func Open(r io.Reader) (*Image, error) {
	header := make([]byte, catalogueSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("disc image: reading catalogue: %w", err)
	}

	endSector := 2
	if header[0x105] > 0 {
		lastSector := int(header[0x10F]) + (int(header[0x10E]&0x03) << 8)
		lastLen := int(header[0x10C]) + (int(header[0x10D]) << 8) + (int(header[0x10E]&0x30) << 12)
		endSector = lastSector + (lastLen+0xFF)>>8
	}

	img := &Image{buf: make([]byte, catalogueSize)}
	copy(img.buf, header)

	remaining := (endSector - 2) * sectorSize
	if remaining > 0 {
		body := make([]byte, remaining)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("disc image: reading file sectors: %w", err)
		}
		img.buf = append(img.buf, body...)
	}
	return img, nil
}

// AddFile installs one file. name may carry a "D." directory prefix
// (a single directory character followed by '.'); the default
// directory is '$'. The name (after stripping any prefix) must be at
// most 7 characters. Duplicate detection is case-insensitive on both
// name and directory.
func (img *Image) AddFile(name string, data []byte, load, exec int) error {
	dir := byte('$')
	if len(name) > 2 && name[1] == '.' {
		dir = name[0]
		name = name[2:]
	}
	if len(name) > 7 {
		return &Error{fmt.Sprintf("bad file name %q", name)}
	}

	count := int(img.buf[0x105])
	if count == maxFiles*8 {
		return &Error{"catalogue full"}
	}

	for i := count; i > 0; i -= 8 {
		if entryMatches(img.buf, i, name, dir) {
			return &Error{fmt.Sprintf("file already exists: %s", name)}
		}
	}

	startSector := 2
	if count > 0 {
		lastSector := int(img.buf[0x10F]) + (int(img.buf[0x10E]&0x03) << 8)
		lastLen := int(img.buf[0x10C]) + (int(img.buf[0x10D]) << 8) + (int(img.buf[0x10E]&0x30) << 12)
		startSector = lastSector + (lastLen+0xFF)>>8
	}
	sectorsNeeded := (len(data) + 0xFF) >> 8
	if startSector+sectorsNeeded > totalSectors {
		return &Error{"disc full"}
	}

	// Shift existing entries down by 8 bytes in both catalogue
	// sectors to make room for the new entry at position 1.
	for i := count; i > 0; i -= 8 {
		copy(img.buf[i+8:i+16], img.buf[i:i+8])
		copy(img.buf[i+0x108:i+0x110], img.buf[i+0x100:i+0x108])
	}

	img.buf[0x105] = byte(count + 8)

	for j := 0; j < 7; j++ {
		if j < len(name) {
			img.buf[8+j] = name[j]
		} else {
			img.buf[8+j] = ' '
		}
	}
	img.buf[15] = dir

	img.buf[0x108] = byte(load & 0xFF)
	img.buf[0x109] = byte((load & 0xFF00) >> 8)
	img.buf[0x10A] = byte(exec & 0xFF)
	img.buf[0x10B] = byte((exec & 0xFF00) >> 8)
	img.buf[0x10C] = byte(len(data) & 0xFF)
	img.buf[0x10D] = byte((len(data) & 0xFF00) >> 8)
	img.buf[0x10F] = byte(startSector & 0xFF)
	img.buf[0x10E] = byte(((load>>16)&0x03)<<2 |
		((exec>>16)&0x03)<<6 |
		((len(data)>>16)&0x03)<<4 |
		(startSector>>8)&0x03)

	offset := startSector * sectorSize
	needed := offset + len(data)
	if needed > len(img.buf) {
		grown := make([]byte, needed)
		copy(grown, img.buf)
		img.buf = grown
	}
	copy(img.buf[offset:offset+len(data)], data)

	if rem := len(img.buf) % sectorSize; rem != 0 {
		img.buf = append(img.buf, make([]byte, sectorSize-rem)...)
	}
	return nil
}

func entryMatches(buf []byte, entryOffset int, name string, dir byte) bool {
	if toUpper(buf[entryOffset+7]) != toUpper(dir) {
		return false
	}
	for j := 0; j < len(name); j++ {
		if toUpper(name[j]) != toUpper(buf[entryOffset+j]) {
			return false
		}
	}
	// The stored name is space-padded; anything past len(name) must
	// be a space for an exact match.
	for j := len(name); j < 7; j++ {
		if buf[entryOffset+j] != ' ' {
			return false
		}
	}
	return true
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// Save writes the complete disc image to w.
func (img *Image) Save(w io.Writer) error {
	_, err := w.Write(img.buf)
	return err
}

// Bytes returns the complete disc image buffer.
func (img *Image) Bytes() []byte {
	return img.buf
}
