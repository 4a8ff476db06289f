package processor

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"strings"

	"github.com/nci/cubeserver/utils"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	// Liberation fonts register automatically on import
	_ "gonum.org/v1/plot/font/liberation"
)

// EncodeSeriesCSV renders one line per frame: ISO date, spatial mean
// and the number of contributing cells. A missing point keeps its
// date row with an empty value cell so downstream spreadsheets see
// the gap instead of a shortened axis.
func EncodeSeriesCSV(points []*TimeSeriesPoint) string {
	var csv strings.Builder
	fmt.Fprint(&csv, "date,mean,count\n")
	for _, pt := range points {
		fmt.Fprintf(&csv, "%s,", pt.TimeStamp.Format(utils.ISOFormat))
		if !pt.Missing {
			fmt.Fprintf(&csv, "%f", pt.Mean)
		}
		fmt.Fprintf(&csv, ",%d\n", pt.Count)
	}
	return csv.String()
}

// SeriesPlotData is the chart-ready form of a time series: the
// present points, plus line segments covering each unbroken run of
// present points. Missing points break the line but never appear as
// plotted values.
type SeriesPlotData struct {
	Points   plotter.XYs
	Segments []plotter.XYs
}

func BuildSeriesPlotData(points []*TimeSeriesPoint) *SeriesPlotData {
	data := &SeriesPlotData{}
	var run plotter.XYs
	for _, pt := range points {
		if pt.Missing {
			if len(run) > 1 {
				data.Segments = append(data.Segments, run)
			}
			run = nil
			continue
		}
		xy := plotter.XY{X: float64(pt.TimeStamp.Unix()), Y: pt.Mean}
		data.Points = append(data.Points, xy)
		run = append(run, xy)
	}
	if len(run) > 1 {
		data.Segments = append(data.Segments, run)
	}
	return data
}

// EncodeSeriesPNG renders the series as a scatter plot with line
// segments joining consecutive present points.
func EncodeSeriesPNG(points []*TimeSeriesPoint, title string, wPx, hPx float64) ([]byte, error) {
	data := BuildSeriesPlotData(points)
	if len(data.Points) == 0 {
		return nil, fmt.Errorf("no data points to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.Title.TextStyle.Font.Size = vg.Points(12)
	p.X.Label.Text = "date"
	p.Y.Label.Text = "index"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}
	p.Add(plotter.NewGrid())

	for _, seg := range data.Segments {
		line, err := plotter.NewLine(seg)
		if err != nil {
			return nil, err
		}
		line.Width = vg.Points(1)
		line.Color = color.RGBA{R: 0, G: 128, B: 0, A: 255}
		p.Add(line)
	}

	scatter, err := plotter.NewScatter(data.Points)
	if err != nil {
		return nil, err
	}
	scatter.Radius = vg.Points(2)
	scatter.Color = color.RGBA{R: 0, G: 96, B: 0, A: 255}
	p.Add(scatter)

	const dpi = 96
	width := vg.Length(wPx) * vg.Inch / dpi
	height := vg.Length(hPx) * vg.Inch / dpi

	c := vgimg.New(width, height)
	dc := draw.New(c)
	p.Draw(dc)

	buf := new(bytes.Buffer)
	err = png.Encode(buf, c.Image())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
