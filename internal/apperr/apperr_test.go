package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesByCategoryNotMessage(t *testing.T) {
	err := Wrap(UpstreamData, "empty bar batch", errors.New("boom"))
	assert.True(t, errors.Is(err, ErrUpstreamData))
	assert.False(t, errors.Is(err, ErrBroker))
}

func TestUnwrapReturnsUnderlyingCause(t *testing.T) {
	cause := errors.New("dial tcp timeout")
	err := Wrap(Broker, "quote request failed", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestNewHasNoUnderlyingCause(t *testing.T) {
	err := New(Precondition, "SKIP_COOLDOWN")
	assert.Nil(t, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "SKIP_COOLDOWN")
}

func TestCategoryStringCoversAllValues(t *testing.T) {
	assert.Equal(t, "ConfigurationError", Configuration.String())
	assert.Equal(t, "LiveDisabled", LiveDisabled.String())
	assert.Equal(t, "UnknownError", Category(99).String())
}
