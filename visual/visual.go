// Package visual renders mask overlays and prepares images for the
// Reasoning Service.
package visual

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	"image/png"
	"math"
	"net/http"
	"strconv"

	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/rle"
)

// Color returns the overlay color for mask index i. Hues advance by the
// golden angle so neighbouring indices are far apart.
func Color(i int) color.RGBA {
	if i < 0 {
		i = -i
	}
	hue := math.Mod(float64(i)*137.5, 360)
	sat := 0.7 + float64(i%3)*0.1
	val := 0.9 - float64(i%2)*0.1

	h := hue / 60
	c := val * sat
	x := c * (1 - math.Abs(math.Mod(h, 2)-1))
	m := val - c

	var r, g, b float64
	switch {
	case h < 1:
		r, g, b = c, x, 0
	case h < 2:
		r, g, b = x, c, 0
	case h < 3:
		r, g, b = 0, c, x
	case h < 4:
		r, g, b = 0, x, c
	case h < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return color.RGBA{
		R: uint8((r + m) * 255),
		G: uint8((g + m) * 255),
		B: uint8((b + m) * 255),
		A: 255,
	}
}

// Options configures a Renderer.
type Options struct {
	// Alpha is the opacity of mask fills in [0, 1].
	Alpha float64
	// BoxWidth is the outline width in pixels; 0 disables boxes.
	BoxWidth int
	// Labels draws the mask index above its box.
	Labels bool
}

// Renderer draws masks over a base image.
type Renderer struct {
	opts Options
}

// New creates a Renderer.
func New(optFns ...func(o *Options)) *Renderer {
	opts := Options{Alpha: 0.5, BoxWidth: 3, Labels: true}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Alpha < 0 || opts.Alpha > 1 {
		opts.Alpha = 0.5
	}
	return &Renderer{opts: opts}
}

// Render returns a copy of base with masks composited on top. Masks whose
// shape differs from the image are scaled with nearest-neighbour sampling.
// Masks that fail to decode are skipped.
func (r *Renderer) Render(base image.Image, masks core.MaskSet) *image.RGBA {
	b := base.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), base, b.Min, draw.Src)

	iw, ih := b.Dx(), b.Dy()
	for _, m := range masks {
		grid, err := rle.Decode(m.RLE, m.Height, m.Width)
		if err != nil {
			continue
		}
		col := Color(m.Index)
		r.fill(out, grid, col)

		if r.opts.BoxWidth > 0 {
			sx := float64(iw) / float64(grid.Width)
			sy := float64(ih) / float64(grid.Height)
			box := image.Rect(
				int(m.Box[0]*sx), int(m.Box[1]*sy),
				int((m.Box[0]+m.Box[2])*sx), int((m.Box[1]+m.Box[3])*sy),
			)
			r.outline(out, box, col)
			if r.opts.Labels {
				label(out, box.Min, strconv.Itoa(m.Index), col)
			}
		}
	}

	return out
}

func (r *Renderer) fill(dst *image.RGBA, grid rle.Grid, col color.RGBA) {
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	a := r.opts.Alpha
	for y := 0; y < h; y++ {
		gy := y * grid.Height / h
		for x := 0; x < w; x++ {
			gx := x * grid.Width / w
			if !grid.At(gy, gx) {
				continue
			}
			px := dst.RGBAAt(x, y)
			dst.SetRGBA(x, y, color.RGBA{
				R: blend(px.R, col.R, a),
				G: blend(px.G, col.G, a),
				B: blend(px.B, col.B, a),
				A: 255,
			})
		}
	}
}

func (r *Renderer) outline(dst *image.RGBA, box image.Rectangle, col color.RGBA) {
	box = box.Intersect(dst.Bounds())
	if box.Empty() {
		return
	}
	t := r.opts.BoxWidth
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+t),
		image.Rect(box.Min.X, box.Max.Y-t, box.Max.X, box.Max.Y),
		image.Rect(box.Min.X, box.Min.Y, box.Min.X+t, box.Max.Y),
		image.Rect(box.Max.X-t, box.Min.Y, box.Max.X, box.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(box), src, image.Point{}, draw.Src)
	}
}

func label(dst *image.RGBA, at image.Point, text string, col color.RGBA) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 4
	h := face.Metrics().Height.Ceil() + 2

	y := at.Y - h
	if y < 0 {
		y = at.Y
	}
	bg := image.Rect(at.X, y, at.X+w, y+h).Intersect(dst.Bounds())
	draw.Draw(dst, bg, image.NewUniform(col), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(at.X+2, y+face.Metrics().Ascent.Ceil()+1),
	}
	d.DrawString(text)
}

func blend(a, b uint8, alpha float64) uint8 {
	return uint8(math.Round(float64(a)*(1-alpha) + float64(b)*alpha))
}

// RenderPNG decodes an encoded image, renders masks on it and returns PNG bytes.
func (r *Renderer) RenderPNG(data []byte, masks core.MaskSet) ([]byte, error) {
	base, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, r.Render(base, masks)); err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}

	return buf.Bytes(), nil
}

// Downscale shrinks an encoded image to maxWidth keeping the aspect ratio
// and re-encodes it as JPEG. Images that already fit are returned as is.
// The MIME type of the returned bytes is reported alongside.
func Downscale(data []byte, maxWidth int) ([]byte, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image config: %w", err)
	}
	if maxWidth <= 0 || cfg.Width <= maxWidth {
		return data, http.DetectContentType(data), nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	resized := resize.Resize(uint(maxWidth), 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, "", fmt.Errorf("encode resized image: %w", err)
	}

	return buf.Bytes(), "image/jpeg", nil
}

// Size returns the pixel dimensions of an encoded image.
func Size(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
