package convert

import (
	"bufio"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ImageFormat is an image file format for frame sequences.
type ImageFormat string

const (
	JPEG ImageFormat = "jpg"
	PNG  ImageFormat = "png"
	BMP  ImageFormat = "bmp"
	TIFF ImageFormat = "tiff"
)

const jpegQuality = 95

// ParseImageFormat maps a name or extension ("png", ".JPEG", "tif") to an
// ImageFormat.
func ParseImageFormat(s string) (ImageFormat, error) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "", "jpg", "jpeg":
		return JPEG, nil
	case "png":
		return PNG, nil
	case "bmp":
		return BMP, nil
	case "tif", "tiff":
		return TIFF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedImageFormat, s)
	}
}

func (f ImageFormat) encode(w io.Writer, img image.Image) error {
	switch f {
	case JPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	case PNG:
		return png.Encode(w, img)
	case BMP:
		return bmp.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedImageFormat, string(f))
	}
}

func writeImage(path string, f ImageFormat, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	if err := f.encode(w, img); err != nil {
		file.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func readImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bmp":
		img, err = bmp.Decode(bufio.NewReader(file))
	case ".tif", ".tiff":
		img, err = tiff.Decode(file)
	case ".png":
		img, err = png.Decode(bufio.NewReader(file))
	default:
		img, err = jpeg.Decode(bufio.NewReader(file))
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// sequenceImage is one file of a numbered image sequence.
type sequenceImage struct {
	index int
	path  string
}

// listSequence returns the images in dir whose base name is a number
// ("1.jpg", "12.png"), ordered by that number. Other files are ignored.
func listSequence(dir string) ([]sequenceImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []sequenceImage
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if _, err := ParseImageFormat(ext); err != nil || ext == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ext))
		if err != nil {
			continue
		}
		out = append(out, sequenceImage{index: n, path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out, nil
}
