package classifier

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/example/tumor-report/internal/domain"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeTensor_Formats(t *testing.T) {
	src := solidImage(64, 32, color.RGBA{R: 10, G: 120, B: 250, A: 255})

	encoders := map[string]func(*bytes.Buffer) error{
		"png":  func(b *bytes.Buffer) error { return png.Encode(b, src) },
		"jpeg": func(b *bytes.Buffer) error { return jpeg.Encode(b, src, &jpeg.Options{Quality: 100}) },
		"gif":  func(b *bytes.Buffer) error { return gif.Encode(b, src, nil) },
		"bmp":  func(b *bytes.Buffer) error { return bmp.Encode(b, src) },
	}
	for name, encode := range encoders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, encode(&buf))

			tensor, err := DecodeTensor(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, InputSize, tensor.Height)
			assert.Equal(t, InputSize, tensor.Width)
			assert.Len(t, tensor.Pix, InputSize*InputSize*Channels)
			assert.Equal(t, []int64{1, InputSize, InputSize, Channels}, tensor.Shape())
		})
	}
}

func TestDecodeTensor_PreservesColourOrder(t *testing.T) {
	tensor, err := DecodeTensor(encodePNG(t, solidImage(8, 8, color.RGBA{R: 200, G: 100, B: 50, A: 255})))
	require.NoError(t, err)

	mid := (InputSize/2*InputSize + InputSize/2) * Channels
	assert.Equal(t, []uint8{200, 100, 50}, tensor.Pix[mid:mid+3])

	nested := tensor.Nested()
	assert.Equal(t, []float32{200, 100, 50}, nested[InputSize/2][InputSize/2])
}

func TestDecodeTensor_Garbage(t *testing.T) {
	_, err := DecodeTensor([]byte("\x89PNG\r\n\x1a\ntruncated"))
	require.ErrorIs(t, err, domain.ErrImageDecode)
}
