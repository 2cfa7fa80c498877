package spectrogram

import (
	"fmt"
	"image"
	"image/color"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi            = 72.0
	fontSize       = 11.0
	tickMarkHeight = 5
	frequencyTicks = 5
)

type annotator struct {
	context  *freetype.Context
	fontFace font.Face
}

func newAnnotator() (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(fontSize)
	ctx.SetHinting(font.HintingFull)
	ctx.SetSrc(image.White)

	return &annotator{
		context: ctx,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    fontSize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		}),
	}, nil
}

func (a *annotator) Close() error { return a.fontFace.Close() }

func (a *annotator) setTarget(img *image.RGBA) {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)
}

// frequencyScale labels evenly spaced ticks across the plot area, from the
// lower band edge to the upper one.
func (a *annotator) frequencyScale(img *image.RGBA, area image.Rectangle, centerFreq, sampleRate float64) error {
	metrics := a.fontFace.Metrics()
	textY := area.Min.Y - tickMarkHeight - metrics.Descent.Round() - 2
	low := centerFreq - sampleRate/2
	for i := 0; i < frequencyTicks; i++ {
		ratio := float64(i) / float64(frequencyTicks-1)
		x := area.Min.X + int(ratio*float64(area.Dx()-1))
		for y := area.Min.Y - tickMarkHeight; y < area.Min.Y; y++ {
			img.Set(x, y, color.White)
		}

		label := humanHz(low + ratio*sampleRate)
		width := font.MeasureString(a.fontFace, label).Round()
		lx := min(max(x-width/2, img.Bounds().Min.X+2), img.Bounds().Max.X-width-2)
		if _, err := a.context.DrawString(label, freetype.Pt(lx, textY)); err != nil {
			return fmt.Errorf("drawing frequency label: %w", err)
		}
	}
	return nil
}

func (a *annotator) infoBar(img *image.RGBA, area image.Rectangle, text string) error {
	metrics := a.fontFace.Metrics()
	y := area.Max.Y + metrics.Ascent.Round() + 4
	if _, err := a.context.DrawString(text, freetype.Pt(area.Min.X, y)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

func humanHz(hz float64) string {
	v, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.2f %sHz", v, suffix)
}
