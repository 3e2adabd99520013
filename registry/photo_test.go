package registry

import (
	"encoding/base64"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// exifJPEG assembles a minimal JPEG carrying a single EXIF
// DateTimeOriginal tag in a big-endian TIFF block.
func exifJPEG(t *testing.T, date string) []byte {
	t.Helper()
	require.Len(t, date, 19)

	tiff := make([]byte, 0, 64)
	tiff = append(tiff, 'M', 'M', 0x00, 0x2a)
	tiff = binary.BigEndian.AppendUint32(tiff, 8) // IFD0 offset

	// IFD0: one entry, the ExifIFD pointer.
	tiff = binary.BigEndian.AppendUint16(tiff, 1)
	tiff = binary.BigEndian.AppendUint16(tiff, 0x8769)
	tiff = binary.BigEndian.AppendUint16(tiff, 4) // LONG
	tiff = binary.BigEndian.AppendUint32(tiff, 1)
	tiff = binary.BigEndian.AppendUint32(tiff, 26) // ExifIFD offset
	tiff = binary.BigEndian.AppendUint32(tiff, 0)  // no next IFD

	// ExifIFD: one entry, DateTimeOriginal as ASCII at offset 44.
	tiff = binary.BigEndian.AppendUint16(tiff, 1)
	tiff = binary.BigEndian.AppendUint16(tiff, 0x9003)
	tiff = binary.BigEndian.AppendUint16(tiff, 2) // ASCII
	tiff = binary.BigEndian.AppendUint32(tiff, 20)
	tiff = binary.BigEndian.AppendUint32(tiff, 44)
	tiff = binary.BigEndian.AppendUint32(tiff, 0)
	tiff = append(tiff, []byte(date)...)
	tiff = append(tiff, 0x00)

	payload := append([]byte("Exif\x00\x00"), tiff...)
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe1}
	jpeg = binary.BigEndian.AppendUint16(jpeg, uint16(len(payload)+2))
	jpeg = append(jpeg, payload...)
	jpeg = append(jpeg, 0xff, 0xd9)
	return jpeg
}

func TestBuildPhotoContentReadsEXIFDate(t *testing.T) {
	image := exifJPEG(t, "2025:06:01 09:30:00")
	uploaded := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	photo, err := BuildPhotoContent("image/jpeg", image, uploaded)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC), photo.ScreenshotDate)
}

func TestBuildPhotoContentFallsBackToUploadTime(t *testing.T) {
	uploaded := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)

	photo, err := BuildPhotoContent("image/png", []byte("not-a-jpeg"), uploaded)
	require.NoError(t, err)
	require.Equal(t, uploaded, photo.ScreenshotDate)

	// A JPEG without an EXIF segment also falls back.
	bare := []byte{0xff, 0xd8, 0xff, 0xd9}
	photo, err = BuildPhotoContent("image/jpeg", bare, uploaded)
	require.NoError(t, err)
	require.Equal(t, uploaded, photo.ScreenshotDate)
}

func TestBuildPhotoContentRejectsEmptyImage(t *testing.T) {
	_, err := BuildPhotoContent("image/jpeg", nil, time.Now())
	require.Error(t, err)
}

func TestPhotoContentDataURL(t *testing.T) {
	photo := &PhotoContent{ContentType: "image/jpeg", Image: []byte{0x01, 0x02}}
	url := photo.DataURL()
	require.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	require.Equal(t, photo.Image, decoded)
}

func TestPhotoContentMapIsStable(t *testing.T) {
	shot := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	photo := &PhotoContent{ContentType: "image/jpeg", Image: []byte("img"), ScreenshotDate: shot}

	m := photo.Map()
	require.Equal(t, "image/jpeg", m["content_type"])
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("img")), m["image"])
	require.Equal(t, "2025-06-01T09:30:00Z", m["screenshot_date"])
}
