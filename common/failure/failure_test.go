package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		expected Class
	}{
		{name: "nil", err: nil, expected: ClassUnclassified},
		{name: "plain error", err: base, expected: ClassUnclassified},
		{name: "transient", err: Transient(base), expected: ClassTransient},
		{name: "malformed", err: Malformed(base), expected: ClassMalformed},
		{name: "capability", err: Capability(base), expected: ClassCapability},
		{name: "unavailable", err: Unavailable(base), expected: ClassUnavailable},
		{name: "wrapped transient", err: fmt.Errorf("upsert: %w", Transient(base)), expected: ClassTransient},
		{name: "formatted malformed", err: Malformedf("bad %s", "json"), expected: ClassMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassOf(tt.err))
		})
	}
}

func TestClassOf_OutermostWins(t *testing.T) {
	err := Malformed(Transient(errors.New("inner")))
	assert.Equal(t, ClassMalformed, ClassOf(err))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Transient(nil))
	assert.NoError(t, Malformed(nil))
}

func TestUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	err := Transient(base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "connection refused", err.Error())
	assert.True(t, IsTransient(err))
	assert.False(t, IsMalformed(err))
}

func TestClass_Retryable(t *testing.T) {
	assert.True(t, ClassTransient.Retryable())
	assert.True(t, ClassUnavailable.Retryable())
	assert.True(t, ClassUnclassified.Retryable())
	assert.False(t, ClassMalformed.Retryable())
	assert.False(t, ClassCapability.Retryable())
}

func TestClass_String(t *testing.T) {
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "malformed", ClassMalformed.String())
	assert.Equal(t, "capability", ClassCapability.String())
	assert.Equal(t, "unavailable", ClassUnavailable.String())
	assert.Equal(t, "unclassified", ClassUnclassified.String())
}
