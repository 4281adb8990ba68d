package models

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanlab/specimen-stack/common/failure"
)

func ptr[T any](v T) *T { return &v }

func TestValidateSpecimenID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "simple", id: "s1"},
		{name: "punctuation", id: "cruise-42:tray_3.slot7"},
		{name: "empty", id: "", wantErr: ErrEmptySpecimenID},
		{name: "space", id: "s 1", wantErr: ErrInvalidSpecimenID},
		{name: "slash", id: "a/b", wantErr: ErrInvalidSpecimenID},
		{name: "too long", id: strings.Repeat("a", MaxSpecimenIDLength+1), wantErr: ErrSpecimenIDTooLong},
		{name: "max length", id: strings.Repeat("a", MaxSpecimenIDLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSpecimenID(tt.id)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateLocation(t *testing.T) {
	assert.NoError(t, ValidateLocation(nil, nil))
	assert.NoError(t, ValidateLocation(ptr(12.5), ptr(80.1)))
	assert.ErrorIs(t, ValidateLocation(ptr(12.5), nil), ErrInvalidLocation)
	assert.ErrorIs(t, ValidateLocation(ptr(91.0), ptr(0.0)), ErrInvalidLocation)
	assert.ErrorIs(t, ValidateLocation(ptr(0.0), ptr(-181.0)), ErrInvalidLocation)
}

func TestDecodePayload(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	std := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		payload string
	}{
		{name: "standard", payload: std},
		{name: "unpadded", payload: strings.TrimRight(std, "=")},
		{name: "data url", payload: "data:image/png;base64," + std},
		{name: "url safe", payload: base64.RawURLEncoding.EncodeToString(raw)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := SubmissionEnvelope{SpecimenID: "s1", Payload: tt.payload}
			got, err := env.DecodePayload()
			require.NoError(t, err)
			assert.Equal(t, raw, got)
		})
	}
}

func TestDecodePayload_Invalid(t *testing.T) {
	env := SubmissionEnvelope{SpecimenID: "s2", Payload: "not-base64!!"}
	_, err := env.DecodePayload()
	require.Error(t, err)
	assert.Equal(t, failure.ClassMalformed, failure.ClassOf(err))

	env.Payload = "data:image/png;base64,"
	_, err = env.DecodePayload()
	assert.Equal(t, failure.ClassMalformed, failure.ClassOf(err))
}

func TestDecodeEnvelope(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	body, err := json.Marshal(SubmissionEnvelope{
		SpecimenID:  "s1",
		Payload:     "aGVsbG8=",
		Latitude:    ptr(10.5),
		Longitude:   ptr(76.2),
		SubmittedAt: submitted,
	})
	require.NoError(t, err)

	env, err := DecodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, "s1", env.SpecimenID)
	assert.Equal(t, 10.5, *env.Latitude)
	assert.True(t, env.SubmittedAt.Equal(submitted))
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "missing id", body: `{"payload":"aGVsbG8="}`},
		{name: "missing payload", body: `{"specimenId":"s1"}`},
		{name: "half location", body: `{"specimenId":"s1","payload":"aGVsbG8=","latitude":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, failure.IsMalformed(err))
		})
	}
}

func TestDecodeFeatureSet(t *testing.T) {
	fs, err := DecodeFeatureSet([]byte(`{"specimenId":"s1","area":1,"perimeter":4,"width":1,"height":1,"aspectRatio":1}`))
	require.NoError(t, err)
	assert.Equal(t, "s1", fs.SpecimenID)
	assert.Equal(t, Morphometrics{Area: 1, Perimeter: 4, Width: 1, Height: 1, AspectRatio: 1}, fs.Morphometrics)

	_, err = DecodeFeatureSet([]byte(`{"area":1}`))
	assert.True(t, failure.IsMalformed(err))
}

func TestFeatureSet_FlatJSON(t *testing.T) {
	env := SubmissionEnvelope{SpecimenID: "s1"}
	body, err := json.Marshal(env.Features(Morphometrics{Area: 12, Width: 4, Height: 3, AspectRatio: 1.333}))
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(body, &flat))
	assert.Equal(t, "s1", flat["specimenId"])
	assert.Equal(t, 12.0, flat["area"])
	assert.Equal(t, 1.333, flat["aspectRatio"])
}

func TestMorphometrics_Validate(t *testing.T) {
	assert.NoError(t, Morphometrics{Area: 1, Perimeter: 4, Width: 1, Height: 1, AspectRatio: 1}.Validate())
	assert.Error(t, Morphometrics{Area: -1}.Validate())
	assert.Error(t, Morphometrics{Width: -2}.Validate())
}

func TestSpecimenRecord_StageFlags(t *testing.T) {
	rec := SpecimenRecord{SpecimenID: "s1"}
	assert.False(t, rec.HasMorphometrics())
	assert.False(t, rec.HasClassification())

	rec.Area, rec.Width, rec.Height = ptr(1.0), ptr(1), ptr(1)
	rec.PredictedLabel = ptr("Thunnus albacares")
	assert.True(t, rec.HasMorphometrics())
	assert.True(t, rec.HasClassification())
}
