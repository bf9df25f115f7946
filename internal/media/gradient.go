package media

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bobarin/stockreel/internal/models"
)

// Placeholder colours.
var (
	GradientTop    = models.RGB{R: 30, G: 30, B: 60}
	GradientBottom = models.RGB{R: 80, G: 60, B: 140}
	FlatColor      = models.RGB{R: 30, G: 40, B: 80}
)

const (
	glyphW      = 7 // basicfont.Face7x13 advance
	glyphH      = 13
	glyphAscent = 11
	labelPad    = 3
	labelLines  = 3
	labelCenter = 0.82 // vertical centre of the label as a fraction of height
)

// Gradient returns a w x h image fading vertically from top to bottom.
func Gradient(w, h int, top, bottom models.RGB) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid gradient size %dx%d", w, h)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		c := color.RGBA{
			R: lerp(top.R, bottom.R, y, h),
			G: lerp(top.G, bottom.G, y, h),
			B: lerp(top.B, bottom.B, y, h),
			A: 255,
		}
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			row[x*4+0] = c.R
			row[x*4+1] = c.G
			row[x*4+2] = c.B
			row[x*4+3] = c.A
		}
	}
	return img, nil
}

func lerp(a, b uint8, y, h int) uint8 {
	return uint8(int(a) + (int(b)-int(a))*y/h)
}

// DrawLabel writes label centred near the bottom of img on a translucent
// box, wrapped to at most three lines. The bitmap font is scaled with the
// frame height so the text stays legible at 1080p.
func DrawLabel(img *image.RGBA, label string) {
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		return
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := h / 270
	if scale < 1 {
		scale = 1
	}
	maxChars := (w * 9 / 10) / (glyphW * scale)
	if maxChars < 4 {
		maxChars = 4
	}

	lines := WrapText(label, maxChars, labelLines)
	longest := 0
	for _, l := range lines {
		if n := utf8.RuneCountInString(l); n > longest {
			longest = n
		}
	}

	tw := longest*glyphW + 2*labelPad
	th := len(lines)*glyphH + 2*labelPad
	small := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.Draw(small, small.Bounds(), &image.Uniform{C: color.RGBA{A: 140}}, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: small, Src: image.White, Face: basicfont.Face7x13}
	for i, l := range lines {
		x := labelPad + (longest-utf8.RuneCountInString(l))*glyphW/2
		y := labelPad + i*glyphH + glyphAscent
		d.Dot = fixed.P(x, y)
		d.DrawString(l)
	}

	dw, dh := tw*scale, th*scale
	if dw > w {
		dw = w
	}
	x0 := (w - dw) / 2
	y0 := int(float64(h)*labelCenter) - dh/2
	if y0+dh > h {
		y0 = h - dh
	}
	if y0 < 0 {
		y0 = 0
	}

	dst := image.Rect(x0, y0, x0+dw, y0+dh).Add(b.Min)
	draw.NearestNeighbor.Scale(img, dst, small, small.Bounds(), draw.Over, nil)
}

// WrapText breaks s into lines of at most width runes, splitting on spaces
// where possible. Text beyond maxLines is elided with "...".
func WrapText(s string, width, maxLines int) []string {
	if width <= 0 || maxLines <= 0 {
		return nil
	}

	var lines []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			lines = append(lines, string(cur))
			cur = cur[:0]
		}
	}

	for _, word := range strings.Fields(s) {
		wr := []rune(word)
		for len(wr) > width {
			flush()
			lines = append(lines, string(wr[:width]))
			wr = wr[width:]
		}
		switch {
		case len(cur) == 0:
			cur = append(cur, wr...)
		case len(cur)+1+len(wr) <= width:
			cur = append(cur, ' ')
			cur = append(cur, wr...)
		default:
			flush()
			cur = append(cur, wr...)
		}
	}
	flush()

	if len(lines) > maxLines {
		lines = lines[:maxLines]
		last := []rune(lines[maxLines-1])
		if len(last)+3 > width {
			last = last[:max(0, width-3)]
		}
		lines[maxLines-1] = strings.TrimRight(string(last), " ") + "..."
	}
	return lines
}

// WritePNG encodes img to path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return f.Close()
}
