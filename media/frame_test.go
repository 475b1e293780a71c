package media

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "raw-bytes", want: FormatRaw},
		{in: "bytes", want: FormatRaw},
		{in: "decoded-array", want: FormatDecoded},
		{in: "numpy", want: FormatDecoded},
		{in: "", want: FormatDecoded},
		{in: "jpeg", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFormat(tc.in)
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidFormat), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatValid(t *testing.T) {
	t.Parallel()
	assert.True(t, FormatRaw.Valid())
	assert.True(t, FormatDecoded.Valid())
	assert.False(t, Format(0).Valid())
	assert.Equal(t, "Format(7)", Format(7).String())
}

func TestMetadata(t *testing.T) {
	t.Parallel()
	m := Metadata{Width: 4, Height: 2, FrameRate: 25}
	assert.Equal(t, 24, m.FrameSize())
	assert.False(t, m.FrameCountKnown())
	assert.Equal(t, "4x2", m.Resolution())

	m.FrameCount = 10
	assert.True(t, m.FrameCountKnown())
}

func TestBGRFromRGB24ReversesChannels(t *testing.T) {
	t.Parallel()

	// 2x1 image: red pixel then blue pixel.
	data := []byte{255, 0, 0, 0, 0, 255}
	img, err := BGRFromRGB24(data, 2, 1)
	require.NoError(t, err)

	assert.Equal(t, []uint8{0, 0, 255, 255, 0, 0}, img.Pix)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, img.At(0, 0))
	assert.Equal(t, color.RGBA{B: 255, A: 255}, img.At(1, 0))
	assert.Equal(t, data, img.RGB24())
}

func TestBGRFromRGB24RejectsBadGeometry(t *testing.T) {
	t.Parallel()
	_, err := BGRFromRGB24(make([]byte, 5), 2, 1)
	assert.Error(t, err)
	_, err = BGRFromRGB24(nil, 0, 1)
	assert.Error(t, err)
}

func TestBGRSetAndConvert(t *testing.T) {
	t.Parallel()

	img := NewBGR(image.Rect(0, 0, 3, 2))
	img.Set(2, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	img.Set(5, 5, color.White) // out of bounds is ignored

	off := img.PixOffset(2, 1)
	assert.Equal(t, []uint8{30, 20, 10}, img.Pix[off:off+3])

	rgba := img.RGBA()
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, rgba.RGBAAt(2, 1))

	clone := BGRFromImage(rgba)
	assert.Equal(t, img.Pix, clone.Pix)
}

func TestFrameBytes(t *testing.T) {
	t.Parallel()

	raw := &Frame{Data: []byte{1, 2, 3}}
	assert.Equal(t, []byte{1, 2, 3}, raw.Bytes())

	img, err := BGRFromRGB24([]byte{1, 2, 3}, 1, 1)
	require.NoError(t, err)
	decoded := &Frame{Image: img}
	assert.Equal(t, []byte{1, 2, 3}, decoded.Bytes())

	assert.Nil(t, (&Frame{}).Bytes())
}
