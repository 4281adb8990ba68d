package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/oceanlab/specimen-stack/common/messaging"
	"github.com/oceanlab/specimen-stack/common/models"
)

// Out and Err are where command output goes; tests replace them.
var (
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
)

func Success(format string, a ...any) {
	successColor.Fprintf(Out, "✓ "+format+"\n", a...)
}

func Error(format string, a ...any) {
	errorColor.Fprintf(Err, "✗ "+format+"\n", a...)
}

func Info(format string, a ...any) {
	infoColor.Fprintf(Out, format+"\n", a...)
}

func Warn(format string, a ...any) {
	warnColor.Fprintf(Out, "⚠ "+format+"\n", a...)
}

func JSON(v any) error {
	enc := json.NewEncoder(Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(Out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

// Records renders specimen records as a table. Fields a stage has not yet
// written are shown as "-".
func Records(records []*models.SpecimenRecord) {
	t := newTable(table.Row{"Specimen", "Area", "Perimeter", "W×H", "Aspect", "Label", "Location", "Updated"})
	for _, r := range records {
		size := "-"
		if r.Width != nil && r.Height != nil {
			size = fmt.Sprintf("%d×%d", *r.Width, *r.Height)
		}
		location := "-"
		if r.Latitude != nil && r.Longitude != nil {
			location = fmt.Sprintf("%.4f, %.4f", *r.Latitude, *r.Longitude)
		}
		label := "-"
		if r.PredictedLabel != nil {
			label = *r.PredictedLabel
		}
		t.AppendRow(table.Row{
			r.SpecimenID,
			formatFloat(r.Area, 0),
			formatFloat(r.Perimeter, 1),
			size,
			formatFloat(r.AspectRatio, 3),
			label,
			location,
			r.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	t.AppendFooter(table.Row{"Total", len(records)})
	t.Render()
}

// DeadLetters renders dead-lettered messages as a table.
func DeadLetters(letters []messaging.DeadLetter) {
	t := newTable(table.Row{"Time", "Queue", "Reason", "Attempt", "Message ID", "Error"})
	for _, dl := range letters {
		t.AppendRow(table.Row{
			dl.Timestamp.Local().Format(time.DateTime),
			dl.Queue,
			dl.Reason,
			dl.Attempt,
			dl.MessageID,
			truncate(dl.Error, 60),
		})
	}
	t.Render()
}

// KeyValues renders ordered key/value pairs.
func KeyValues(pairs [][2]string) {
	t := newTable(table.Row{"Key", "Value"})
	for _, kv := range pairs {
		t.AppendRow(table.Row{kv[0], kv[1]})
	}
	t.Render()
}

func formatFloat(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
