package movie

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/tiff"
)

// ErrNotTIFF reports that a file does not start with a TIFF header.
var ErrNotTIFF = errors.New("not a TIFF file")

// MaxFrames caps how many pages are read from one recording.
const MaxFrames = 10000

// Baseline TIFF tags used by the reader and writer.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
)

const (
	typeByte  = 1
	typeShort = 3
	typeLong  = 4
)

// ReadMovie loads a multi-page grayscale TIFF into a Movie. Single-page PNG,
// JPEG and compressed TIFF inputs fall back to the registered image decoders.
// 16-bit recordings are rescaled into [0, 255] by their global maximum.
func ReadMovie(path string) (*Movie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening movie: %w", err)
	}
	defer f.Close()

	frames, bits, pages, err := decodeTIFF(f)
	if err != nil {
		if pages > 1 {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		// Single-image fallback for formats the stripped reader does not
		// handle, taken only when the IFD chain holds a single page: a
		// multi-page recording the reader cannot decode is an error, not a
		// one-frame movie.
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		img, _, derr := image.Decode(f)
		if derr != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		frames = []*Frame{FromImage(img)}
		bits = 8
	}

	if bits == 16 {
		rescale16(frames)
	}

	return New(frames, Meta{})
}

func rescale16(frames []*Frame) {
	max := 0.0
	for _, f := range frames {
		if v := f.Max(); v > max {
			max = v
		}
	}
	if max <= 0 {
		return
	}
	for _, f := range frames {
		for i, v := range f.Pix {
			f.Pix[i] = v / max * 255
		}
	}
}

type tiffDecoder struct {
	r  io.ReaderAt
	bo binary.ByteOrder
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	raw   [4]byte
}

// decodeTIFF reads every page of an uncompressed grayscale TIFF. It returns
// the decoded frames, the sample bit depth and the number of pages in the
// IFD chain. When a page fails to decode, the rest of the chain is still
// counted, so callers can tell whether a single-image fallback would drop
// frames.
func decodeTIFF(r io.ReaderAt) ([]*Frame, int, int, error) {
	header := make([]byte, 8)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, 0, 0, ErrNotTIFF
	}

	d := &tiffDecoder{r: r}
	switch {
	case header[0] == 'I' && header[1] == 'I':
		d.bo = binary.LittleEndian
	case header[0] == 'M' && header[1] == 'M':
		d.bo = binary.BigEndian
	default:
		return nil, 0, 0, ErrNotTIFF
	}
	if d.bo.Uint16(header[2:4]) != 42 {
		return nil, 0, 0, ErrNotTIFF
	}

	var frames []*Frame
	bits := 0
	pages := 0

	offset := int64(d.bo.Uint32(header[4:8]))
	for offset != 0 && len(frames) < MaxFrames {
		pages++
		entries, next, err := d.readIFD(offset)
		if err != nil {
			return nil, 0, pages, err
		}
		frame, frameBits, err := d.decodePage(entries)
		if err != nil {
			return nil, 0, d.countChain(next, pages), fmt.Errorf("page %d: %w", pages-1, err)
		}
		if bits == 0 {
			bits = frameBits
		} else if bits != frameBits {
			return nil, 0, d.countChain(next, pages), fmt.Errorf("page %d: bit depth %d differs from %d", pages-1, frameBits, bits)
		}
		frames = append(frames, frame)
		offset = next
	}

	if len(frames) == 0 {
		return nil, 0, pages, fmt.Errorf("TIFF has no pages")
	}
	return frames, bits, pages, nil
}

// countChain walks IFD next-pointers from offset and adds them to pages. It
// reads IFD headers only, never strip data, so it counts pages decodePage
// cannot decode.
func (d *tiffDecoder) countChain(offset int64, pages int) int {
	for offset != 0 && pages < MaxFrames {
		_, next, err := d.readIFD(offset)
		if err != nil {
			break
		}
		pages++
		offset = next
	}
	return pages
}

func (d *tiffDecoder) readIFD(offset int64) ([]ifdEntry, int64, error) {
	countBuf := make([]byte, 2)
	if _, err := d.r.ReadAt(countBuf, offset); err != nil {
		return nil, 0, fmt.Errorf("reading IFD at %d: %w", offset, err)
	}
	count := int(d.bo.Uint16(countBuf))

	body := make([]byte, count*12+4)
	if _, err := d.r.ReadAt(body, offset+2); err != nil {
		return nil, 0, fmt.Errorf("reading IFD entries at %d: %w", offset, err)
	}

	entries := make([]ifdEntry, count)
	for i := 0; i < count; i++ {
		rec := body[i*12 : i*12+12]
		entries[i] = ifdEntry{
			tag:   d.bo.Uint16(rec[0:2]),
			typ:   d.bo.Uint16(rec[2:4]),
			count: d.bo.Uint32(rec[4:8]),
		}
		copy(entries[i].raw[:], rec[8:12])
	}
	next := int64(d.bo.Uint32(body[count*12:]))
	return entries, next, nil
}

func typeSize(typ uint16) int {
	switch typ {
	case typeByte:
		return 1
	case typeShort:
		return 2
	case typeLong:
		return 4
	default:
		return 0
	}
}

// entryInts resolves an entry's values, following the offset indirection when
// they do not fit into the four inline bytes.
func (d *tiffDecoder) entryInts(e ifdEntry) ([]uint32, error) {
	size := typeSize(e.typ)
	if size == 0 {
		return nil, fmt.Errorf("tag %d: unsupported value type %d", e.tag, e.typ)
	}
	total := int(e.count) * size

	var data []byte
	if total <= 4 {
		data = e.raw[:total]
	} else {
		data = make([]byte, total)
		if _, err := d.r.ReadAt(data, int64(d.bo.Uint32(e.raw[:]))); err != nil {
			return nil, fmt.Errorf("tag %d: reading %d values: %w", e.tag, e.count, err)
		}
	}

	out := make([]uint32, e.count)
	for i := range out {
		switch e.typ {
		case typeByte:
			out[i] = uint32(data[i])
		case typeShort:
			out[i] = uint32(d.bo.Uint16(data[i*2:]))
		case typeLong:
			out[i] = d.bo.Uint32(data[i*4:])
		}
	}
	return out, nil
}

func (d *tiffDecoder) decodePage(entries []ifdEntry) (*Frame, int, error) {
	var width, height, bits, compression, photometric, samples uint32
	bits = 1
	compression = 1
	samples = 1
	var stripOffsets, stripCounts []uint32

	for _, e := range entries {
		switch e.tag {
		case tagImageWidth, tagImageLength, tagBitsPerSample, tagCompression,
			tagPhotometric, tagStripOffsets, tagSamplesPerPixel, tagStripByteCounts:
			vals, err := d.entryInts(e)
			if err != nil {
				return nil, 0, err
			}
			if len(vals) == 0 {
				continue
			}
			switch e.tag {
			case tagImageWidth:
				width = vals[0]
			case tagImageLength:
				height = vals[0]
			case tagBitsPerSample:
				bits = vals[0]
			case tagCompression:
				compression = vals[0]
			case tagPhotometric:
				photometric = vals[0]
			case tagSamplesPerPixel:
				samples = vals[0]
			case tagStripOffsets:
				stripOffsets = vals
			case tagStripByteCounts:
				stripCounts = vals
			}
		}
	}

	if width == 0 || height == 0 {
		return nil, 0, fmt.Errorf("missing image dimensions")
	}
	if compression != 1 {
		return nil, 0, fmt.Errorf("unsupported compression %d", compression)
	}
	if samples != 1 {
		return nil, 0, fmt.Errorf("expected grayscale input, got %d samples per pixel", samples)
	}
	if bits != 8 && bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d", bits)
	}
	if photometric > 1 {
		return nil, 0, fmt.Errorf("unsupported photometric interpretation %d", photometric)
	}
	if len(stripOffsets) == 0 || len(stripOffsets) != len(stripCounts) {
		return nil, 0, fmt.Errorf("inconsistent strip layout: %d offsets, %d byte counts", len(stripOffsets), len(stripCounts))
	}

	bytesPerSample := int(bits) / 8
	want := int(width) * int(height) * bytesPerSample
	data := make([]byte, 0, want)
	for i := range stripOffsets {
		strip := make([]byte, stripCounts[i])
		if _, err := d.r.ReadAt(strip, int64(stripOffsets[i])); err != nil {
			return nil, 0, fmt.Errorf("reading strip %d: %w", i, err)
		}
		data = append(data, strip...)
	}
	if len(data) != want {
		return nil, 0, fmt.Errorf("strip data is %d bytes, expected %d", len(data), want)
	}

	frame := NewFrame(int(width), int(height))
	switch bits {
	case 8:
		for i := range frame.Pix {
			v := float64(data[i])
			if photometric == 0 {
				v = 255 - v
			}
			frame.Pix[i] = v
		}
	case 16:
		for i := range frame.Pix {
			v := float64(d.bo.Uint16(data[i*2:]))
			if photometric == 0 {
				v = 65535 - v
			}
			frame.Pix[i] = v
		}
	}
	return frame, int(bits), nil
}

// WriteGray8 writes pages of w*h 8-bit pixels as an uncompressed multi-page
// grayscale TIFF.
func WriteGray8(path string, w, h int, pages [][]uint8) error {
	return writePages(path, w, h, pages, 1)
}

// WriteRGB8 writes pages of w*h interleaved RGB triplets as an uncompressed
// multi-page TIFF. Used for diagnostic overlays.
func WriteRGB8(path string, w, h int, pages [][]uint8) error {
	return writePages(path, w, h, pages, 3)
}

func writePages(path string, w, h int, pages [][]uint8, samplesPerPixel int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid page size %dx%d", w, h)
	}
	if len(pages) == 0 {
		return fmt.Errorf("no pages to write")
	}
	dataLen := w * h * samplesPerPixel
	for i, p := range pages {
		if len(p) != dataLen {
			return fmt.Errorf("page %d has %d bytes, expected %d", i, len(p), dataLen)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	out := bufio.NewWriter(f)
	bo := binary.LittleEndian

	// Fixed-size IFDs let every offset be computed up front. The layout is
	// header, then per page its pixel data followed by its IFD.
	ifdLen := 2 + 9*12 + 4
	if samplesPerPixel == 3 {
		ifdLen += 6 // external BitsPerSample array
	}

	header := make([]byte, 8)
	header[0], header[1] = 'I', 'I'
	bo.PutUint16(header[2:4], 42)
	bo.PutUint32(header[4:8], uint32(8+dataLen))
	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	offset := 8
	for i, p := range pages {
		if _, err := out.Write(p); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		dataOffset := offset
		ifdOffset := offset + dataLen

		next := 0
		if i < len(pages)-1 {
			next = ifdOffset + ifdLen + dataLen
		}

		ifd := encodeIFD(bo, w, h, samplesPerPixel, dataOffset, dataLen, ifdOffset, next)
		if _, err := out.Write(ifd); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		offset = ifdOffset + ifdLen
	}

	if err := out.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

func encodeIFD(bo binary.ByteOrder, w, h, samplesPerPixel, dataOffset, dataLen, ifdOffset, next int) []byte {
	var buf bytes.Buffer

	photometric := uint32(1) // BlackIsZero
	if samplesPerPixel == 3 {
		photometric = 2 // RGB
	}

	writeU16 := func(v uint16) {
		var b [2]byte
		bo.PutUint16(b[:], v)
		buf.Write(b[:])
	}
	writeU32 := func(v uint32) {
		var b [4]byte
		bo.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	entry := func(tag, typ uint16, count, value uint32) {
		writeU16(tag)
		writeU16(typ)
		writeU32(count)
		if typ == typeShort && count == 1 {
			writeU16(uint16(value))
			writeU16(0)
		} else {
			writeU32(value)
		}
	}

	writeU16(9) // entry count

	entry(tagImageWidth, typeLong, 1, uint32(w))
	entry(tagImageLength, typeLong, 1, uint32(h))
	if samplesPerPixel == 3 {
		// Three shorts do not fit inline; they live right after this IFD.
		entry(tagBitsPerSample, typeShort, 3, uint32(ifdOffset+2+9*12+4))
	} else {
		entry(tagBitsPerSample, typeShort, 1, 8)
	}
	entry(tagCompression, typeShort, 1, 1)
	entry(tagPhotometric, typeShort, 1, photometric)
	entry(tagStripOffsets, typeLong, 1, uint32(dataOffset))
	entry(tagSamplesPerPixel, typeShort, 1, uint32(samplesPerPixel))
	entry(tagRowsPerStrip, typeLong, 1, uint32(h))
	entry(tagStripByteCounts, typeLong, 1, uint32(dataLen))

	writeU32(uint32(next))

	if samplesPerPixel == 3 {
		writeU16(8)
		writeU16(8)
		writeU16(8)
	}
	return buf.Bytes()
}
