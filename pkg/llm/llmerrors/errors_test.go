package llmerrors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil stays nil", nil, ErrorTypeUnknown},
		{"status 401", fmt.Errorf("request failed, status code: 401"), ErrorTypeAuth},
		{"status 429", fmt.Errorf("request failed, status code: 429"), ErrorTypeRateLimit},
		{"status 400", fmt.Errorf("request failed, status code: 400 bad request"), ErrorTypeBadPrompt},
		{"status 503", fmt.Errorf("request failed, status code: 503"), ErrorTypeTransient},
		{"connection reset", fmt.Errorf("read tcp: connection reset by peer"), ErrorTypeTransient},
		{"eof", fmt.Errorf("unexpected EOF"), ErrorTypeTransient},
		{"quota text", fmt.Errorf("monthly quota exceeded"), ErrorTypeRateLimit},
		{"api key text", fmt.Errorf("missing api key"), ErrorTypeAuth},
		{"too long", fmt.Errorf("prompt is too long for model"), ErrorTypeBadPrompt},
		{"deadline", context.DeadlineExceeded, ErrorTypeTransient},
		{"cancel", context.Canceled, ErrorTypeTransient},
		{"mystery", fmt.Errorf("something odd happened"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err)
			if tt.err == nil {
				assert.Nil(t, classified)
				return
			}
			require.NotNil(t, classified)
			assert.Equal(t, tt.want, classified.Type)
		})
	}
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	orig := NewError(ErrorTypeEmptyResponse, "no content")
	wrapped := fmt.Errorf("complete: %w", orig)

	classified := Classify(wrapped)
	assert.Equal(t, ErrorTypeEmptyResponse, classified.Type)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, NewError(ErrorTypeRateLimit, "x").IsRetryable())
	assert.True(t, NewError(ErrorTypeTransient, "x").IsRetryable())
	assert.True(t, NewError(ErrorTypeEmptyResponse, "x").IsRetryable())
	assert.True(t, NewError(ErrorTypeUnknown, "x").IsRetryable())

	assert.False(t, NewError(ErrorTypeAuth, "x").IsRetryable())
	assert.False(t, NewError(ErrorTypeBadPrompt, "x").IsRetryable())
	assert.False(t, NewServiceUnavailableError(fmt.Errorf("down"), 4).IsRetryable())
}

func TestTypeOf(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewError(ErrorTypeAuth, "denied"))
	assert.Equal(t, ErrorTypeAuth, TypeOf(err))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(fmt.Errorf("plain")))
	assert.True(t, Is(err, ErrorTypeAuth))
	assert.False(t, Is(err, ErrorTypeRateLimit))
}
