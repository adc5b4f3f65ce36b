package api

import (
	"encoding/json"
	"strings"

	"github.com/gookit/goutil"
)

// Response is the gateway's standard envelope
type Response[T any] struct {
	Status  FlexInt `json:"status,omitempty"`
	Message string  `json:"message,omitempty"`
	Payload T       `json:"payload"`
}

// FlexInt decodes a status the gateway sends either as a number or a string.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*f = 0
		return nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n, err := goutil.ToInt(v)
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// OK reports whether the envelope status is absent or 200.
func (f FlexInt) OK() bool {
	return f == 0 || f == 200
}

// ErrorBody is the subset of an error response worth surfacing to callers.
type ErrorBody struct {
	Status  FlexInt `json:"status,omitempty"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Text returns the most specific message in the body.
func (e ErrorBody) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
