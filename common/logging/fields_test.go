package logging

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		name     string
		attr     slog.Attr
		key      string
		expected string
	}{
		{name: "service", attr: Service("ingest"), key: FieldService, expected: "ingest"},
		{name: "component", attr: Component("consumer"), key: FieldComponent, expected: "consumer"},
		{name: "specimen", attr: SpecimenID("spec-1"), key: FieldSpecimenID, expected: "spec-1"},
		{name: "queue", attr: Queue("morphometrics-in"), key: FieldQueue, expected: "morphometrics-in"},
		{name: "outcome", attr: Outcome("requeued"), key: FieldOutcome, expected: "requeued"},
		{name: "ip", attr: IP("10.0.0.1"), key: FieldIP, expected: "10.0.0.1"},
		{name: "method", attr: Method("POST"), key: FieldMethod, expected: "POST"},
		{name: "path", attr: Path("/api/v1/specimens"), key: FieldPath, expected: "/api/v1/specimens"},
		{name: "error", attr: Error(errors.New("boom")), key: FieldError, expected: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.expected, tt.attr.Value.String())
		})
	}
}

func TestIntFieldHelpers(t *testing.T) {
	assert.Equal(t, int64(3), Instance(3).Value.Int64())
	assert.Equal(t, int64(2), Attempt(2).Value.Int64())
	assert.Equal(t, int64(202), Status(202).Value.Int64())
	assert.Equal(t, int64(1500), Duration(1500*time.Millisecond).Value.Int64())
}

func TestError_Nil(t *testing.T) {
	assert.Equal(t, "", Error(nil).Value.String())
}
