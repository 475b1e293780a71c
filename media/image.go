package media

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// BGR is an in-memory image whose pixels are stored as three bytes in
// blue, green, red order. It is the consumer-facing layout of a decoded
// frame: shape (Height, Width, 3) with the decoder's RGB order reversed.
type BGR struct {
	// Pix holds the pixels. The pixel at (x, y) starts at
	// Pix[(y-Rect.Min.Y)*Stride + (x-Rect.Min.X)*3].
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

var _ draw.Image = (*BGR)(nil)

// NewBGR returns a zeroed BGR image with the given bounds.
func NewBGR(r image.Rectangle) *BGR {
	w, h := r.Dx(), r.Dy()
	return &BGR{
		Pix:    make([]uint8, w*h*BytesPerPixel),
		Stride: w * BytesPerPixel,
		Rect:   r,
	}
}

// BGRFromRGB24 converts a packed RGB24 buffer of the given geometry into a
// BGR image. The source buffer is not retained.
func BGRFromRGB24(data []byte, width, height int) (*BGR, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("media: invalid geometry %dx%d", width, height)
	}
	if len(data) != width*height*BytesPerPixel {
		return nil, fmt.Errorf("media: rgb24 buffer is %d bytes, want %d", len(data), width*height*BytesPerPixel)
	}
	img := NewBGR(image.Rect(0, 0, width, height))
	for i := 0; i+2 < len(data); i += BytesPerPixel {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
	}
	return img, nil
}

// BGRFromImage copies any image into a new BGR image.
func BGRFromImage(src image.Image) *BGR {
	if b, ok := src.(*BGR); ok {
		out := NewBGR(b.Rect)
		copy(out.Pix, b.Pix)
		return out
	}
	r := src.Bounds()
	img := NewBGR(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Set(x, y, src.At(x, y))
		}
	}
	return img
}

func (p *BGR) ColorModel() color.Model { return color.RGBAModel }

func (p *BGR) Bounds() image.Rectangle { return p.Rect }

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (p *BGR) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*BytesPerPixel
}

func (p *BGR) At(x, y int) color.Color {
	return p.BGRAt(x, y)
}

// BGRAt returns the pixel at (x, y) as an opaque RGBA color.
func (p *BGR) BGRAt(x, y int) color.RGBA {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+3 : i+3]
	return color.RGBA{R: s[2], G: s[1], B: s[0], A: 0xff}
}

func (p *BGR) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+3 : i+3]
	s[0] = rgba.B
	s[1] = rgba.G
	s[2] = rgba.R
}

// RGB24 returns the image packed in decoder order (red, green, blue).
func (p *BGR) RGB24() []byte {
	w, h := p.Rect.Dx(), p.Rect.Dy()
	out := make([]byte, w*h*BytesPerPixel)
	for y := 0; y < h; y++ {
		row := p.Pix[y*p.Stride : y*p.Stride+w*BytesPerPixel]
		dst := out[y*w*BytesPerPixel:]
		for i := 0; i+2 < len(row); i += BytesPerPixel {
			dst[i] = row[i+2]
			dst[i+1] = row[i+1]
			dst[i+2] = row[i]
		}
	}
	return out
}

// RGBA converts the image to a standard *image.RGBA.
func (p *BGR) RGBA() *image.RGBA {
	out := image.NewRGBA(p.Rect)
	for y := p.Rect.Min.Y; y < p.Rect.Max.Y; y++ {
		for x := p.Rect.Min.X; x < p.Rect.Max.X; x++ {
			out.SetRGBA(x, y, p.BGRAt(x, y))
		}
	}
	return out
}
