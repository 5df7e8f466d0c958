package classifier

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/example/tumor-report/internal/domain"
)

// Model input geometry.
const (
	InputSize = 240
	Channels  = 3
)

// Tensor holds RGB pixels in height-width-channel order.
type Tensor struct {
	Height int
	Width  int
	Pix    []uint8
}

// Shape returns the batched NHWC shape of the tensor.
func (t Tensor) Shape() []int64 {
	return []int64{1, int64(t.Height), int64(t.Width), Channels}
}

// Float32 returns the raw 0-255 channel values; the model does its own scaling.
func (t Tensor) Float32() []float32 {
	out := make([]float32, len(t.Pix))
	for i, v := range t.Pix {
		out[i] = float32(v)
	}
	return out
}

// Nested returns the tensor as [height][width][channel] for JSON transports.
// Plain byte slices would marshal as base64, so values are widened.
func (t Tensor) Nested() [][][]float32 {
	flat := t.Float32()
	rows := make([][][]float32, t.Height)
	for y := range rows {
		row := make([][]float32, t.Width)
		for x := range row {
			off := (y*t.Width + x) * Channels
			row[x] = flat[off : off+Channels : off+Channels]
		}
		rows[y] = row
	}
	return rows
}

// Gray returns the luma plane using the ITU-R BT.601 weights.
func (t Tensor) Gray() []float64 {
	gray := make([]float64, t.Height*t.Width)
	for i := range gray {
		r := float64(t.Pix[i*Channels])
		g := float64(t.Pix[i*Channels+1])
		b := float64(t.Pix[i*Channels+2])
		gray[i] = 0.299*r + 0.587*g + 0.114*b
	}
	return gray
}

// DecodeTensor decodes jpeg, png, gif or bmp data and resizes it to the
// model input resolution.
func DecodeTensor(data []byte) (Tensor, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %w", domain.ErrImageDecode, err)
	}
	if b := src.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return Tensor{}, fmt.Errorf("%w: empty image", domain.ErrImageDecode)
	}

	dst := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	pix := make([]uint8, 0, InputSize*InputSize*Channels)
	for y := 0; y < InputSize; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+InputSize*4]
		for x := 0; x < InputSize; x++ {
			pix = append(pix, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return Tensor{Height: InputSize, Width: InputSize, Pix: pix}, nil
}
