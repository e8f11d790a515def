package errors

import (
	"errors"
	"fmt"
)

type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`
	Retryable  bool   `json:"retryable"`
	Action     Action `json:"action,omitempty"`

	Chain []string `json:"chain,omitempty"`

	Field         string `json:"field,omitempty"`
	Expected      string `json:"expected,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Retryable = te.Retryable()
		d.Action = te.Action()
		ctx := te.Context()
		d.Field = ctx.Field
		d.Expected = ctx.Expected
		d.CorrelationID = ctx.CorrelationID
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	return d
}

// Fields flattens the dump into logger fields.
func (d ErrorDump) Fields() map[string]any {
	return map[string]any{
		"error":          d.TopMessage,
		"error_code":     d.Code,
		"error_chain":    d.Chain,
		"retryable":      d.Retryable,
		"correlation_id": d.CorrelationID,
		"field":          d.Field,
	}
}
