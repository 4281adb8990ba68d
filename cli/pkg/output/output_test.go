package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanlab/specimen-stack/common/messaging"
	"github.com/oceanlab/specimen-stack/common/models"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	var out, errOut bytes.Buffer
	oldOut, oldErr := Out, Err
	Out, Err = &out, &errOut
	t.Cleanup(func() { Out, Err = oldOut, oldErr })
	return &out, &errOut
}

func TestMessages(t *testing.T) {
	out, errOut := capture(t)

	Success("submitted %s", "spec-1")
	Info("plain")
	Warn("careful")
	Error("failed: %d", 42)

	assert.Equal(t, "✓ submitted spec-1\nplain\n⚠ careful\n", out.String())
	assert.Equal(t, "✗ failed: 42\n", errOut.String())
}

func TestJSON(t *testing.T) {
	out, _ := capture(t)

	require.NoError(t, JSON(map[string]int{"count": 2}))
	assert.Equal(t, "{\n  \"count\": 2\n}\n", out.String())
}

func TestRecords(t *testing.T) {
	out, _ := capture(t)

	area, ratio := 2500.0, 1.578
	w, h := 71, 45
	label := "Auxis thazard"
	lat, lon := 15.3, 73.9
	Records([]*models.SpecimenRecord{
		{
			SpecimenID: "spec-1", Area: &area, Width: &w, Height: &h, AspectRatio: &ratio,
			PredictedLabel: &label, Latitude: &lat, Longitude: &lon, UpdatedAt: time.Now(),
		},
		{SpecimenID: "spec-2", UpdatedAt: time.Now()},
	})

	text := out.String()
	assert.Contains(t, text, "spec-1")
	assert.Contains(t, text, "2500")
	assert.Contains(t, text, "71×45")
	assert.Contains(t, text, "1.578")
	assert.Contains(t, text, "Auxis thazard")
	assert.Contains(t, text, "15.3000, 73.9000")
	assert.Contains(t, text, "spec-2")
	assert.Contains(t, strings.ToUpper(text), "TOTAL")
}

func TestDeadLetters(t *testing.T) {
	out, _ := capture(t)

	DeadLetters([]messaging.DeadLetter{{
		Timestamp: time.Now(),
		Queue:     "morphometrics-in",
		Reason:    "malformed",
		Attempt:   1,
		MessageID: "m-1",
		Error:     strings.Repeat("x", 100),
	}})

	text := out.String()
	assert.Contains(t, text, "morphometrics-in")
	assert.Contains(t, text, "malformed")
	assert.Contains(t, text, "…")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
