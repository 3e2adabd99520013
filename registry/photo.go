package registry

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// PhotoContent is the evidence payload of a photo activity.
type PhotoContent struct {
	ContentType    string
	Image          []byte
	ScreenshotDate time.Time
}

// BuildPhotoContent assembles uploaded photo evidence. The capture date
// is read from JPEG EXIF metadata when present, otherwise the upload
// time is used.
func BuildPhotoContent(contentType string, image []byte, uploadedAt time.Time) (*PhotoContent, error) {
	if len(image) == 0 {
		return nil, errors.New("photo: empty image")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	shot := uploadedAt.UTC()
	if taken, err := exifDateTimeOriginal(image); err == nil {
		shot = taken
	}
	return &PhotoContent{ContentType: contentType, Image: image, ScreenshotDate: shot}, nil
}

// DataURL renders the image as an inline data URL for the grader.
func (p *PhotoContent) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", p.ContentType, base64.StdEncoding.EncodeToString(p.Image))
}

// Map flattens the content into the key/value form the activity hash is
// computed over.
func (p *PhotoContent) Map() map[string]string {
	return map[string]string{
		"content_type":    p.ContentType,
		"image":           base64.StdEncoding.EncodeToString(p.Image),
		"screenshot_date": p.ScreenshotDate.UTC().Format(time.RFC3339),
	}
}

const exifTagDateTimeOriginal = 0x9003

// exifDateTimeOriginal pulls the DateTimeOriginal tag out of a JPEG's
// EXIF APP1 segment. Only the subset of TIFF needed for that one tag is
// parsed.
func exifDateTimeOriginal(data []byte) (time.Time, error) {
	tiff, err := findEXIFSegment(data)
	if err != nil {
		return time.Time{}, err
	}
	return parseTIFFDateTime(tiff)
}

func findEXIFSegment(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
		return nil, errors.New("photo: not a JPEG")
	}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xff {
			return nil, errors.New("photo: malformed JPEG markers")
		}
		marker := data[i+1]
		// Start of scan; no metadata past this point.
		if marker == 0xda {
			break
		}
		size := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if size < 2 || i+2+size > len(data) {
			return nil, errors.New("photo: truncated JPEG segment")
		}
		payload := data[i+4 : i+2+size]
		if marker == 0xe1 && bytes.HasPrefix(payload, []byte("Exif\x00\x00")) {
			return payload[6:], nil
		}
		i += 2 + size
	}
	return nil, errors.New("photo: no EXIF segment")
}

func parseTIFFDateTime(tiff []byte) (time.Time, error) {
	if len(tiff) < 8 {
		return time.Time{}, errors.New("photo: truncated TIFF header")
	}
	var order binary.ByteOrder
	switch {
	case tiff[0] == 'I' && tiff[1] == 'I':
		order = binary.LittleEndian
	case tiff[0] == 'M' && tiff[1] == 'M':
		order = binary.BigEndian
	default:
		return time.Time{}, errors.New("photo: unknown TIFF byte order")
	}

	offset := order.Uint32(tiff[4:8])
	for depth := 0; offset != 0 && depth < 8; depth++ {
		if int(offset)+2 > len(tiff) {
			return time.Time{}, errors.New("photo: IFD offset out of range")
		}
		count := int(order.Uint16(tiff[offset : offset+2]))
		entries := tiff[offset+2:]
		if len(entries) < count*12+4 {
			return time.Time{}, errors.New("photo: truncated IFD")
		}
		var exifIFD uint32
		for i := 0; i < count; i++ {
			entry := entries[i*12 : i*12+12]
			switch order.Uint16(entry[0:2]) {
			case exifTagDateTimeOriginal:
				return readASCIIDate(tiff, order, entry)
			case 0x8769: // ExifIFD pointer, where DateTimeOriginal lives
				exifIFD = order.Uint32(entry[8:12])
			}
		}
		if exifIFD != 0 {
			offset = exifIFD
			continue
		}
		offset = order.Uint32(entries[count*12 : count*12+4])
	}
	return time.Time{}, errors.New("photo: DateTimeOriginal not found")
}

func readASCIIDate(tiff []byte, order binary.ByteOrder, entry []byte) (time.Time, error) {
	length := order.Uint32(entry[4:8])
	valueOffset := order.Uint32(entry[8:12])
	if int(valueOffset)+int(length) > len(tiff) {
		return time.Time{}, errors.New("photo: date value out of range")
	}
	raw := bytes.TrimRight(tiff[valueOffset:valueOffset+length], "\x00")
	t, err := time.Parse("2006:01:02 15:04:05", string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("photo: bad EXIF date %q: %w", raw, err)
	}
	return t.UTC(), nil
}
