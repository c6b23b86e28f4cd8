package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/google/uuid"

	"github.com/askdb-ai/askdb"
	"github.com/askdb-ai/askdb/internal/logger"
)

// ChartTool renders bar and line charts to PNG files in the artifact dir.
type ChartTool struct {
	dir     string
	baseURL string
	log     *logger.Logger
}

// NewChartTool creates the chart adapter. Renders go to dir; returned
// artifact URLs are rooted at baseURL.
func NewChartTool(dir, baseURL string, log *logger.Logger) *ChartTool {
	return &ChartTool{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

// Spec describes the adapter for the registry and the decider.
func (t *ChartTool) Spec() askdb.ToolSpec {
	return askdb.ToolSpec{
		Name: askdb.ToolNameGenerateChart,
		Description: "Render a bar or line chart from tabular data. When charting the " +
			"result of a previous SQL query, the data argument may be omitted and the " +
			"most recent query rows are used.",
		Arguments: []askdb.ArgumentSpec{
			{
				Name:        "data",
				Type:        askdb.ArgTypeArray,
				Description: "Rows to plot, as objects keyed by column name.",
			},
			{
				Name:        "chart_type",
				Type:        askdb.ArgTypeString,
				Description: "The kind of chart to draw.",
				Required:    true,
				Enum:        []string{"bar", "line"},
			},
			{
				Name:        "x_column",
				Type:        askdb.ArgTypeString,
				Description: "Column providing the x-axis labels.",
				Required:    true,
			},
			{
				Name:        "y_column",
				Type:        askdb.ArgTypeString,
				Description: "Column providing the numeric y values.",
				Required:    true,
			},
			{
				Name:        "title",
				Type:        askdb.ArgTypeString,
				Description: "Chart title.",
				Required:    true,
			},
			{
				Name:        "x_label",
				Type:        askdb.ArgTypeString,
				Description: "Optional x-axis label.",
			},
			{
				Name:        "y_label",
				Type:        askdb.ArgTypeString,
				Description: "Optional y-axis label.",
			},
			{
				Name:        "filename",
				Type:        askdb.ArgTypeString,
				Description: "Optional output file name; a unique name is generated when omitted.",
			},
		},
	}
}

// Invoke renders the chart and returns an artifact reference. A partial
// file is removed on render failure.
func (t *ChartTool) Invoke(ctx context.Context, args map[string]interface{}) (askdb.ResultPayload, error) {
	if err := ctx.Err(); err != nil {
		return askdb.ResultPayload{}, err
	}

	rows, ok := args["data"].([]interface{})
	if !ok || len(rows) == 0 {
		return askdb.ResultPayload{}, askdb.NewRenderError("no data to chart; run a SQL query first or pass the data argument", nil)
	}

	chartType, _ := args["chart_type"].(string)
	xColumn, _ := args["x_column"].(string)
	yColumn, _ := args["y_column"].(string)
	title, _ := args["title"].(string)
	xLabel, _ := args["x_label"].(string)
	yLabel, _ := args["y_label"].(string)

	labels, values, err := extractSeries(rows, xColumn, yColumn)
	if err != nil {
		return askdb.ResultPayload{}, err
	}
	if chartType == "line" && len(values) < 2 {
		return askdb.ResultPayload{}, askdb.NewRenderError("line charts need at least two data points", nil)
	}

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return askdb.ResultPayload{}, askdb.NewRenderError("cannot create chart directory", err)
	}

	name := chartFileName(args["filename"])
	path := filepath.Join(t.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return askdb.ResultPayload{}, askdb.NewRenderError("cannot create chart file", err)
	}

	switch chartType {
	case "bar":
		err = renderBar(f, title, yLabel, labels, values)
	case "line":
		err = renderLine(f, title, xLabel, yLabel, labels, values)
	default:
		err = askdb.NewRenderError(fmt.Sprintf("unsupported chart type %q", chartType), nil)
	}
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		if _, ok := err.(*askdb.AgentError); ok {
			return askdb.ResultPayload{}, err
		}
		return askdb.ResultPayload{}, askdb.NewRenderError("chart rendering failed", err)
	}

	if t.log != nil {
		t.log.Debug("", "chart rendered", map[string]interface{}{
			"path":   path,
			"type":   chartType,
			"points": len(values),
		})
	}

	return askdb.ResultPayload{Artifact: &askdb.ArtifactRef{
		Path:      path,
		URL:       t.baseURL + "/" + name,
		MediaType: "image/png",
	}}, nil
}

func renderBar(f *os.File, title, yLabel string, labels []string, values []float64) error {
	bars := make([]chart.Value, len(values))
	for i := range values {
		bars[i] = chart.Value{Label: labels[i], Value: values[i]}
	}
	bc := chart.BarChart{
		Title:      title,
		Width:      1024,
		Height:     640,
		BarWidth:   50,
		Background: chart.Style{Padding: chart.Box{Top: 40}},
		XAxis:      chart.Style{TextRotationDegrees: 45},
		YAxis:      chart.YAxis{Name: yLabel},
		Bars:       bars,
	}
	return bc.Render(chart.PNG, f)
}

func renderLine(f *os.File, title, xLabel, yLabel string, labels []string, values []float64) error {
	xs := make([]float64, len(values))
	ticks := make([]chart.Tick, len(values))
	for i := range values {
		xs[i] = float64(i)
		ticks[i] = chart.Tick{Value: float64(i), Label: labels[i]}
	}
	graph := chart.Chart{
		Title:      title,
		Width:      1024,
		Height:     640,
		Background: chart.Style{Padding: chart.Box{Top: 40}},
		XAxis:      chart.XAxis{Name: xLabel, Ticks: ticks},
		YAxis:      chart.YAxis{Name: yLabel},
		Series: []chart.Series{
			chart.ContinuousSeries{XValues: xs, YValues: values},
		},
	}
	return graph.Render(chart.PNG, f)
}

// extractSeries pulls x labels and numeric y values out of the rows,
// failing with a render error on missing columns or non-numeric values.
func extractSeries(rows []interface{}, xColumn, yColumn string) ([]string, []float64, error) {
	labels := make([]string, 0, len(rows))
	values := make([]float64, 0, len(rows))
	for i, raw := range rows {
		row, ok := raw.(map[string]interface{})
		if !ok {
			return nil, nil, askdb.NewRenderError(fmt.Sprintf("data row %d is not an object", i), nil)
		}
		xVal, ok := row[xColumn]
		if !ok {
			return nil, nil, askdb.NewRenderError(fmt.Sprintf("column %q missing from data row %d", xColumn, i), nil)
		}
		yVal, ok := row[yColumn]
		if !ok {
			return nil, nil, askdb.NewRenderError(fmt.Sprintf("column %q missing from data row %d", yColumn, i), nil)
		}
		y, err := toFloat(yVal)
		if err != nil {
			return nil, nil, askdb.NewRenderError(fmt.Sprintf("column %q in row %d is not numeric", yColumn, i), err)
		}
		labels = append(labels, fmt.Sprintf("%v", xVal))
		values = append(values, y)
	}
	return labels, values, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

// chartFileName returns a safe output name, unique unless the caller
// provided one explicitly.
func chartFileName(arg interface{}) string {
	if name, ok := arg.(string); ok && name != "" {
		name = filepath.Base(name)
		if !strings.HasSuffix(strings.ToLower(name), ".png") {
			name += ".png"
		}
		return name
	}
	return fmt.Sprintf("chart_%d_%s.png", time.Now().Unix(), uuid.NewString()[:8])
}
