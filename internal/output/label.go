package output

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const labelPadding = 5

var (
	labelText       = color.RGBA{255, 255, 255, 255}
	labelBackground = color.RGBA{0, 0, 0, 160}
)

// drawLabel paints text in the top-left corner of img over a translucent
// background. Text wider than the image is clipped.
func drawLabel(img *image.RGBA, text string) {
	if text == "" {
		return
	}

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelText),
		Face: face,
	}

	textWidth := d.MeasureString(text).Ceil()
	height := face.Metrics().Height.Ceil()

	b := img.Bounds()
	box := image.Rect(b.Min.X, b.Min.Y, b.Min.X+textWidth+labelPadding*2, b.Min.Y+height+labelPadding*2).Intersect(b)
	draw.Draw(img, box, image.NewUniform(labelBackground), image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{
		X: fixed.I(b.Min.X + labelPadding),
		Y: fixed.I(b.Min.Y+labelPadding) + face.Metrics().Ascent,
	}
	d.DrawString(text)
}
