// Package render draws a station's reading onto a base photo and encodes the
// result as PNG.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // register decoder
	_ "image/jpeg"
	"image/png"
	"io"
	"sync"

	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Layout defaults.
const (
	FontSize     = 36
	LeftMargin   = 20
	FirstLineTop = 50
	LineSpacing  = 50
	shadowOffset = 2
)

var (
	textColor   = color.White
	shadowColor = color.RGBA{A: 0xB0}
)

var parseFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

// Lines returns the text drawn for st, top to bottom.
func Lines(st domain.WeatherStation) []string {
	return []string{
		"Station: " + st.Name,
		"Feel Temperature: " + st.FeelTemperature + "°C",
		"Ground Temperature: " + st.GroundTemperature + "°C",
	}
}

// Renderer is stateless; one value may serve concurrent workers.
// It implements pipeline.Renderer.
type Renderer struct {
	size float64
}

// New returns a Renderer using the bundled Go Regular face.
func New() (*Renderer, error) {
	if _, err := parseFont(); err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &Renderer{size: FontSize}, nil
}

// Render decodes the photo from src, draws the station text and writes a PNG
// to dst. A photo that cannot be decoded is reported as an upstream failure.
func (r *Renderer) Render(dst io.Writer, src io.Reader, st domain.WeatherStation) error {
	photo, _, err := image.Decode(src)
	if err != nil {
		return fmt.Errorf("%w: decode photo: %w", domain.ErrUpstreamUnavailable, err)
	}

	canvas := image.NewRGBA(photo.Bounds())
	draw.Draw(canvas, canvas.Bounds(), photo, photo.Bounds().Min, draw.Src)

	face, err := r.newFace()
	if err != nil {
		return err
	}
	defer face.Close()

	ascent := face.Metrics().Ascent
	origin := canvas.Bounds().Min
	for i, line := range Lines(st) {
		x := fixed.I(origin.X + LeftMargin)
		y := fixed.I(origin.Y+FirstLineTop+i*LineSpacing) + ascent
		drawString(canvas, face, shadowColor, x+fixed.I(shadowOffset), y+fixed.I(shadowOffset), line)
		drawString(canvas, face, textColor, x, y, line)
	}

	if err := png.Encode(dst, canvas); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// newFace builds a fresh face per call; faces carry glyph caches that are not
// safe for concurrent use.
func (r *Renderer) newFace() (font.Face, error) {
	f, err := parseFont()
	if err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    r.size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	return face, nil
}

func drawString(dst draw.Image, face font.Face, c color.Color, x, y fixed.Int26_6, s string) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: x, Y: y},
	}
	d.DrawString(s)
}
