package channel

import (
	"github.com/kbirk/peerchan/internal/util"
)

// NewErrorPayload converts err to its wire shape.
func NewErrorPayload(err error) ErrorPayload {
	return toErrorPayload(err)
}

// normalizePayload replaces error values inside a payload with their wire
// shape so that every transport can carry them.
func normalizePayload(payload any) any {
	return util.Replace(payload, func(v any) (any, bool) {
		if err, ok := v.(error); ok {
			return toErrorPayload(err), true
		}
		return nil, false
	})
}
