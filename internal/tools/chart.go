package tools

import (
	"context"
	"fmt"
	"strings"
)

// chart geometry: fixed viewport with margins for the title, axis
// labels, and the series legend.
const (
	chartWidth   = 640
	chartHeight  = 360
	chartMarginX = 48
	chartMarginY = 40
)

// seriesPalette colors series in registration order, wrapping when a
// chart has more series than entries.
var seriesPalette = []string{"#4e79a7", "#f28e2b", "#59a14f", "#e15759", "#b07aa1", "#76b7b2"}

func chartRenderDefinition() Definition {
	return Definition{
		Name:        "chart_render",
		Description: "Render a line or bar chart as an SVG image from one or more numeric series. Returns an attachment reference when uploads are available, otherwise the SVG markup itself.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"kind": map[string]any{
					"type":        "string",
					"enum":        []any{"line", "bar"},
					"description": "Chart form: line or bar.",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "Optional chart title.",
				},
				"labels": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "X-axis category labels, one per data point.",
				},
				"series": map[string]any{
					"type":        "array",
					"description": "One or more named series of numbers, all the same length.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name": map[string]any{"type": "string"},
							"data": map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
						},
						"required": []any{"data"},
					},
				},
			},
			"required": []any{"kind", "series"},
		},
	}
}

type chartSeries struct {
	name string
	data []float64
}

func chartRenderHandler(saver AttachmentSaver) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		kind, _ := args["kind"].(string)
		title, _ := args["title"].(string)

		var labels []string
		if raw, ok := args["labels"].([]any); ok {
			for _, l := range raw {
				s, _ := l.(string)
				labels = append(labels, s)
			}
		}

		series, err := decodeChartSeries(args["series"])
		if err != nil {
			return "", err
		}

		svg := renderChartSVG(kind, title, labels, series)

		if saver == nil {
			return svg, nil
		}
		att, err := saver.Save(ctx, "chart.svg", "image/svg+xml", strings.NewReader(svg), int64(len(svg))+1)
		if err != nil {
			return "", fmt.Errorf("store rendered chart: %w", err)
		}
		return fmt.Sprintf("chart rendered as attachment %s (%s, %d bytes)", att.ID, att.MIME, att.Size), nil
	}
}

func decodeChartSeries(raw any) ([]chartSeries, error) {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("series must be a non-empty array")
	}
	out := make([]chartSeries, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("series[%d] must be an object", i)
		}
		s := chartSeries{}
		s.name, _ = obj["name"].(string)
		if s.name == "" {
			s.name = fmt.Sprintf("series %d", i+1)
		}
		points, ok := obj["data"].([]any)
		if !ok || len(points) == 0 {
			return nil, fmt.Errorf("series[%d].data must be a non-empty array of numbers", i)
		}
		for j, p := range points {
			v, ok := p.(float64)
			if !ok {
				return nil, fmt.Errorf("series[%d].data[%d] is not a number", i, j)
			}
			s.data = append(s.data, v)
		}
		out = append(out, s)
	}
	return out, nil
}

// renderChartSVG produces a self-contained SVG document. The scale
// always includes zero so bar heights stay proportional to their
// values.
func renderChartSVG(kind, title string, labels []string, series []chartSeries) string {
	minV, maxV := 0.0, 0.0
	points := 0
	for _, s := range series {
		if len(s.data) > points {
			points = len(s.data)
		}
		for _, v := range s.data {
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
	}
	if maxV == minV {
		maxV = minV + 1
	}

	plotW := float64(chartWidth - 2*chartMarginX)
	plotH := float64(chartHeight - 2*chartMarginY)
	scaleY := func(v float64) float64 {
		return float64(chartHeight-chartMarginY) - (v-minV)/(maxV-minV)*plotH
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n",
		chartWidth, chartHeight, chartWidth, chartHeight)
	b.WriteString(`<rect width="100%" height="100%" fill="white"/>` + "\n")
	if title != "" {
		fmt.Fprintf(&b, `<text x="%d" y="24" text-anchor="middle" font-family="sans-serif" font-size="16">%s</text>`+"\n",
			chartWidth/2, escapeXML(title))
	}

	// Axes: the vertical axis and a horizontal axis at zero, which the
	// scale always includes.
	fmt.Fprintf(&b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#333"/>`+"\n",
		chartMarginX, chartMarginY, chartMarginX, chartHeight-chartMarginY)
	fmt.Fprintf(&b, `<line x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="#333"/>`+"\n",
		chartMarginX, scaleY(0), chartWidth-chartMarginX, scaleY(0))
	fmt.Fprintf(&b, `<text x="%d" y="%.1f" text-anchor="end" font-family="sans-serif" font-size="10">%.4g</text>`+"\n",
		chartMarginX-6, scaleY(maxV)+4, maxV)
	fmt.Fprintf(&b, `<text x="%d" y="%.1f" text-anchor="end" font-family="sans-serif" font-size="10">%.4g</text>`+"\n",
		chartMarginX-6, scaleY(minV)+4, minV)

	switch kind {
	case "bar":
		slot := plotW / float64(points)
		barW := slot / float64(len(series)+1)
		for si, s := range series {
			color := seriesPalette[si%len(seriesPalette)]
			for i, v := range s.data {
				x := float64(chartMarginX) + float64(i)*slot + float64(si)*barW + barW/2
				y0, y1 := scaleY(0), scaleY(v)
				if y1 > y0 {
					y0, y1 = y1, y0
				}
				fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s"/>`+"\n",
					x, y1, barW, y0-y1, color)
			}
		}
	default: // line
		step := plotW / float64(max(points-1, 1))
		for si, s := range series {
			color := seriesPalette[si%len(seriesPalette)]
			coords := make([]string, 0, len(s.data))
			for i, v := range s.data {
				coords = append(coords, fmt.Sprintf("%.1f,%.1f", float64(chartMarginX)+float64(i)*step, scaleY(v)))
			}
			fmt.Fprintf(&b, `<polyline points="%s" fill="none" stroke="%s" stroke-width="2"/>`+"\n",
				strings.Join(coords, " "), color)
		}
	}

	for i, label := range labels {
		if i >= points {
			break
		}
		slot := plotW / float64(points)
		x := float64(chartMarginX) + float64(i)*slot + slot/2
		fmt.Fprintf(&b, `<text x="%.1f" y="%d" text-anchor="middle" font-family="sans-serif" font-size="10">%s</text>`+"\n",
			x, chartHeight-chartMarginY+16, escapeXML(label))
	}

	for si, s := range series {
		color := seriesPalette[si%len(seriesPalette)]
		y := chartMarginY + si*14
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="10" height="10" fill="%s"/>`+"\n",
			chartWidth-chartMarginX-110, y, color)
		fmt.Fprintf(&b, `<text x="%d" y="%d" font-family="sans-serif" font-size="10">%s</text>`+"\n",
			chartWidth-chartMarginX-96, y+9, escapeXML(s.name))
	}

	b.WriteString("</svg>\n")
	return b.String()
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
