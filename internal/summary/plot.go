package summary

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/seqforge/seqforge/internal/metrics"
)

// PlotCurves draws train loss, validation loss and validation R2 per epoch
// and writes the image to path; the format follows the extension. Undefined
// values are left out of the lines.
func PlotCurves(path string, history []metrics.Epoch) error {
	if len(history) == 0 {
		return errors.New("summary: no epochs to plot")
	}

	var train, valid, r2, best plotter.XYs
	for _, ep := range history {
		x := float64(ep.Epoch + 1)
		if !math.IsNaN(ep.TrainLoss) {
			train = append(train, plotter.XY{X: x, Y: ep.TrainLoss})
		}
		if !math.IsNaN(ep.ValidLoss) {
			valid = append(valid, plotter.XY{X: x, Y: ep.ValidLoss})
			if ep.Best {
				best = append(best, plotter.XY{X: x, Y: ep.ValidLoss})
			}
		}
		if !math.IsNaN(ep.ValidR2) {
			r2 = append(r2, plotter.XY{X: x, Y: ep.ValidR2})
		}
	}

	p := plot.New()
	p.Title.Text = "Training curves"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss / R2"
	p.Add(plotter.NewGrid())

	series := []struct {
		name string
		xys  plotter.XYs
		col  color.RGBA
	}{
		{"train", train, color.RGBA{R: 20, G: 80, B: 200, A: 255}},
		{"valid", valid, color.RGBA{R: 200, G: 30, B: 30, A: 255}},
		{"valid R2", r2, color.RGBA{R: 120, G: 120, B: 120, A: 255}},
	}
	for _, s := range series {
		if len(s.xys) == 0 {
			continue
		}
		line, err := plotter.NewLine(s.xys)
		if err != nil {
			return fmt.Errorf("summary: %s line: %w", s.name, err)
		}
		line.Color = s.col
		line.Width = vg.Points(1.2)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	if len(best) > 0 {
		sc, err := plotter.NewScatter(best)
		if err != nil {
			return fmt.Errorf("summary: best points: %w", err)
		}
		sc.GlyphStyle.Color = color.RGBA{R: 40, G: 120, B: 40, A: 255}
		sc.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(sc)
		p.Legend.Add("best", sc)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
