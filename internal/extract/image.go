package extract

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/localfile/engine/internal/store"
)

// ImageExtractor reads image dimensions via the standard library's image
// package and, for JPEG files, a minimal hand-rolled EXIF/TIFF reader.
// No third-party EXIF library appears anywhere in the example pack, and
// spec.md §1 explicitly places "image decoding libraries" out of core
// scope — full EXIF IFD parsing (GPS, all tag IDs) belongs to that
// external collaborator; this reads just the handful of tags spec.md §3
// names (camera model, orientation, capture time, GPS).
type ImageExtractor struct{}

// NewImageExtractor constructs the image metadata extractor.
func NewImageExtractor() *ImageExtractor { return &ImageExtractor{} }

func (e *ImageExtractor) Supports(ext, mimeType string) bool {
	return imageExtensions[ext]
}

func (e *ImageExtractor) Extract(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		// Soft failure: still an Image kind, dimensions unknown.
		return Result{Kind: store.Kind{Variant: store.KindImage, Format: extOf(path)}}, nil
	}

	kind := store.Kind{
		Variant: store.KindImage,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Format:  format,
	}
	meta := store.Metadata{Width: cfg.Width, Height: cfg.Height}

	if format == "jpeg" {
		if _, err := f.Seek(0, 0); err == nil {
			if exif, ok := readJPEGExif(f); ok {
				meta.EXIF = exif
				if exif.Location != nil {
					meta.Location = exif.Location
				}
			}
		}
	}

	return Result{Kind: kind, Metadata: meta}, nil
}

// readJPEGExif scans a JPEG's marker segments for APP1/Exif and decodes a
// small set of TIFF IFD0/Exif/GPS tags.
func readJPEGExif(f *os.File) (*store.EXIFData, bool) {
	buf := make([]byte, 2)
	if _, err := f.Read(buf); err != nil || buf[0] != 0xFF || buf[1] != 0xD8 {
		return nil, false
	}

	for {
		marker := make([]byte, 2)
		if _, err := f.Read(marker); err != nil {
			return nil, false
		}
		if marker[0] != 0xFF {
			return nil, false
		}
		if marker[1] == 0xD9 || marker[1] == 0xDA { // EOI or start-of-scan: no more markers before pixel data
			return nil, false
		}

		lenBuf := make([]byte, 2)
		if _, err := f.Read(lenBuf); err != nil {
			return nil, false
		}
		segLen := int(binary.BigEndian.Uint16(lenBuf)) - 2
		if segLen <= 0 {
			return nil, false
		}

		if marker[1] == 0xE1 { // APP1
			data := make([]byte, segLen)
			if _, err := f.Read(data); err != nil {
				return nil, false
			}
			if len(data) > 6 && string(data[:6]) == "Exif\x00\x00" {
				return parseTIFF(data[6:])
			}
			continue
		}

		if _, err := f.Seek(int64(segLen), 1); err != nil {
			return nil, false
		}
	}
}

// parseTIFF decodes a minimal subset of tags from a TIFF-formatted EXIF
// blob: Model (0x0110), Orientation (0x0112), DateTimeOriginal
// (0x9003 in the Exif sub-IFD), and GPS lat/long (GPS sub-IFD).
func parseTIFF(data []byte) (*store.EXIFData, bool) {
	if len(data) < 8 {
		return nil, false
	}

	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, false
	}

	ifd0Offset := order.Uint32(data[4:8])
	exif := &store.EXIFData{}

	tags := readIFD(data, ifd0Offset, order)
	if model, ok := tags[0x0110]; ok {
		exif.CameraModel = model.asString(data)
	}
	if orient, ok := tags[0x0112]; ok {
		exif.Orientation = int(orient.asInt())
	}

	if exifIFDTag, ok := tags[0x8769]; ok {
		exifTags := readIFD(data, uint32(exifIFDTag.asInt()), order)
		if dt, ok := exifTags[0x9003]; ok {
			if t, err := time.Parse("2006:01:02 15:04:05", dt.asString(data)); err == nil {
				exif.CapturedAt = t
			}
		}
	}

	if gpsIFDTag, ok := tags[0x8825]; ok {
		gpsTags := readIFD(data, uint32(gpsIFDTag.asInt()), order)
		lat, latOK := gpsRational(gpsTags, 0x0002, data, order)
		lon, lonOK := gpsRational(gpsTags, 0x0004, data, order)
		if latOK && lonOK {
			if ref, ok := gpsTags[0x0001]; ok && ref.asString(data) == "S" {
				lat = -lat
			}
			if ref, ok := gpsTags[0x0003]; ok && ref.asString(data) == "W" {
				lon = -lon
			}
			exif.Location = &store.GeoLocation{Latitude: lat, Longitude: lon}
		}
	}

	return exif, true
}

type ifdEntry struct {
	tagType  uint16
	count    uint32
	valueRaw []byte // 4-byte inline value or offset, as found in the IFD
}

func (e ifdEntry) asInt() uint32 {
	return binary.LittleEndian.Uint32(e.valueRaw)
}

func (e ifdEntry) asString(data []byte) string {
	offset := binary.LittleEndian.Uint32(e.valueRaw)
	if int(offset)+int(e.count) > len(data) || e.count == 0 {
		return ""
	}
	raw := data[offset : offset+e.count]
	for i, b := range raw {
		if b == 0 {
			raw = raw[:i]
			break
		}
	}
	return string(raw)
}

func readIFD(data []byte, offset uint32, order binary.ByteOrder) map[uint16]ifdEntry {
	out := make(map[uint16]ifdEntry)
	if int(offset)+2 > len(data) {
		return out
	}
	count := order.Uint16(data[offset : offset+2])
	pos := offset + 2
	for i := uint16(0); i < count; i++ {
		if int(pos)+12 > len(data) {
			break
		}
		entry := data[pos : pos+12]
		tag := order.Uint16(entry[0:2])
		valueCount := order.Uint32(entry[4:8])
		valueRaw := make([]byte, 4)
		copy(valueRaw, entry[8:12])
		// Re-pack value bytes as little-endian uint32 for asInt/asString
		// regardless of the TIFF's own byte order, for a uniform accessor.
		if order == binary.BigEndian {
			v := binary.BigEndian.Uint32(entry[8:12])
			binary.LittleEndian.PutUint32(valueRaw, v)
		}
		out[tag] = ifdEntry{tagType: order.Uint16(entry[2:4]), count: valueCount, valueRaw: valueRaw}
		pos += 12
	}
	return out
}

func gpsRational(tags map[uint16]ifdEntry, tag uint16, data []byte, order binary.ByteOrder) (float64, bool) {
	entry, ok := tags[tag]
	if !ok {
		return 0, false
	}
	offset := entry.asInt()
	// 3 rationals (degrees, minutes, seconds), each 8 bytes (2x uint32).
	if int(offset)+24 > len(data) {
		return 0, false
	}
	readRational := func(base uint32) float64 {
		num := order.Uint32(data[base : base+4])
		den := order.Uint32(data[base+4 : base+8])
		if den == 0 {
			return 0
		}
		return float64(num) / float64(den)
	}
	deg := readRational(offset)
	min := readRational(offset + 8)
	sec := readRational(offset + 16)
	return deg + min/60 + sec/3600, true
}
