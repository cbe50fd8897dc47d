// Package media stores coffee images on disk, content-addressed by SHA-256,
// and derives the resized variants the catalog serves.
package media

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	VariantOriginal = "original"
	VariantContent  = "content"
	VariantThumb    = "thumb"
)

const jpegQuality = 85

var ErrTooLarge = errors.New("upload too large")
var ErrInvalidImage = errors.New("invalid image")

type Manager struct {
	root            string
	contentMaxWidth int
	thumbMaxWidth   int
}

func NewManager(root string, contentMaxWidth, thumbMaxWidth int) *Manager {
	return &Manager{root: root, contentMaxWidth: contentMaxWidth, thumbMaxWidth: thumbMaxWidth}
}

type SaveResult struct {
	SHA256 string
	Bytes  int64
	Mime   string
	Width  int
	Height int
}

// Save streams the upload to disk, computes SHA-256, validates the image, and
// writes the content and thumb variants. The original bytes are kept so
// variants can be re-derived with different widths later.
func (m *Manager) Save(ctx context.Context, r io.Reader, maxBytes int64, maxPixels int) (*SaveResult, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, err
	}

	lim := &io.LimitedReader{R: r, N: maxBytes + 1}
	br := bufio.NewReader(lim)
	peek, _ := br.Peek(512)
	mimeType := http.DetectContentType(peek)

	tmp, err := os.CreateTemp(m.root, "upload-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hash := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hash), br)
	if err != nil {
		return nil, err
	}
	if lim.N <= 0 || written > maxBytes {
		return nil, ErrTooLarge
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	img, format, err := image.Decode(tmp)
	if err != nil {
		return nil, ErrInvalidImage
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 || width*height > maxPixels {
		return nil, ErrInvalidImage
	}

	shaHex := hex.EncodeToString(hash.Sum(nil))

	origPath := m.pathFor(shaHex, VariantOriginal, "."+format)
	if err := m.ensureDir(origPath); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), origPath); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}

	if err := m.writeVariant(img, shaHex, VariantContent, m.contentMaxWidth); err != nil {
		return nil, err
	}
	if err := m.writeVariant(img, shaHex, VariantThumb, m.thumbMaxWidth); err != nil {
		return nil, err
	}

	return &SaveResult{
		SHA256: shaHex,
		Bytes:  written,
		Mime:   mimeType,
		Width:  width,
		Height: height,
	}, nil
}

// writeVariant scales the image down to maxWidth (never up) and encodes it
// as JPEG. Existing variants are left alone: content addressing makes them
// immutable.
func (m *Manager) writeVariant(src image.Image, sha, variant string, maxWidth int) error {
	path := m.pathFor(sha, variant, ".jpg")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := m.ensureDir(path); err != nil {
		return err
	}

	out := src
	bounds := src.Bounds()
	if maxWidth > 0 && bounds.Dx() > maxWidth {
		scaledH := bounds.Dy() * maxWidth / bounds.Dx()
		if scaledH < 1 {
			scaledH = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, scaledH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		out = dst
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return jpeg.Encode(f, out, &jpeg.Options{Quality: jpegQuality})
}

func (m *Manager) ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func (m *Manager) pathFor(sha, variant, ext string) string {
	prefix1 := sha[0:2]
	prefix2 := sha[2:4]
	return filepath.Join(m.root, variant, prefix1, prefix2, sha+ext)
}

// PathForVariant returns the on-disk path of a derived variant.
func (m *Manager) PathForVariant(sha, variant string) string {
	return m.pathFor(sha, variant, ".jpg")
}

func (m *Manager) IsWritable() error {
	testPath := filepath.Join(m.root, ".writetest")
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(testPath, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(testPath)
}
