package channel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelErrorIs(t *testing.T) {
	decoded := ErrorFromPayload(map[string]any{"message": "request timeout", "code": float64(502)}, CodeUnknownError)
	assert.ErrorIs(t, decoded, ErrRequestTimeout)
	assert.NotErrorIs(t, decoded, ErrNoResponse)

	wrapped := fmt.Errorf("outer: %w", ErrNoResponse)
	assert.ErrorIs(t, wrapped, ErrNoResponse)
}

func TestToChannelError(t *testing.T) {
	chErr := ToChannelError(errors.New("bad"))
	assert.Equal(t, "bad", chErr.Message)
	assert.Equal(t, CodeRequestError, chErr.Code)

	assert.Same(t, ErrNoResponse, ToChannelError(ErrNoResponse))

	chErr = ToChannelError(fmt.Errorf("wrapped: %w", ErrRequestTimeout))
	assert.Equal(t, "wrapped: request timeout", chErr.Message)
	assert.Equal(t, CodeRequestTimeout, chErr.Code)

	chErr = ToChannelError(NewResponseHandlingError(errors.New("cause")))
	assert.Equal(t, CodeResponseHandlingError, chErr.Code)

	assert.Nil(t, ToChannelError(nil))
}

func TestErrorFromPayload(t *testing.T) {
	assert.EqualError(t, ErrorFromPayload("bad", CodeRequestError), "bad")
	assert.EqualError(t, ErrorFromPayload(ErrorPayload{Message: "bad", Code: 500}, CodeRequestError), "bad")
	assert.EqualError(t, ErrorFromPayload(&ErrorPayload{Message: "bad", Code: 500}, CodeRequestError), "bad")
	assert.EqualError(t, ErrorFromPayload(nil, CodeMissingResponse), "missing response")
	assert.EqualError(t, ErrorFromPayload(42, CodeRequestError), "42")

	boom := errors.New("boom")
	assert.Same(t, boom, ErrorFromPayload(boom, CodeRequestError))

	var chErr *ChannelError
	err := ErrorFromPayload(map[string]any{"message": "bad"}, CodeUnknownError)
	assert.ErrorAs(t, err, &chErr)
	assert.Equal(t, CodeUnknownError, chErr.Code)
}

func TestNormalizePayload(t *testing.T) {
	payload := map[string]any{
		"err":  errors.New("bad"),
		"list": []any{ErrNoResponse, "ok"},
	}

	res := normalizePayload(payload).(map[string]any)
	assert.Equal(t, ErrorPayload{Message: "bad", Code: CodeRequestError}, res["err"])
	assert.Equal(t, []any{ErrorPayload{Message: "missing response", Code: CodeMissingResponse}, "ok"}, res["list"])

	assert.Equal(t, ErrorPayload{Message: "x", Code: CodeRequestError}, normalizePayload(errors.New("x")))
	assert.Equal(t, "plain", normalizePayload("plain"))
}

func TestResponseCodeString(t *testing.T) {
	assert.Equal(t, "request timeout", CodeRequestTimeout.String())
	assert.Equal(t, "code 418", ResponseCode(418).String())
}
