package transport

import "encoding/json"

// Envelope is the standard API response wrapper used for both success and error payloads.
type Envelope struct {
	Status string      `json:"status"`
	Code   string      `json:"code,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  interface{} `json:"error,omitempty"`
	Meta   interface{} `json:"meta,omitempty"`
}

// NewSuccess returns a success envelope.
func NewSuccess(data interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "success",
		Data:   data,
		Meta:   meta,
	}
}

// NewError returns an error envelope with optional metadata.
func NewError(code string, err interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "error",
		Code:   code,
		Error:  err,
		Meta:   meta,
	}
}

// NewRejection renders the coarse contract for denied requests: a code, a
// generic message and, for throttled requests, the retry hint. Anything more
// specific stays server-side.
func NewRejection(code, message string, retryAfterSeconds int) Envelope {
	env := Envelope{
		Status: "error",
		Code:   code,
		Error:  message,
	}
	if retryAfterSeconds > 0 {
		env.Meta = map[string]int{"retry_after_seconds": retryAfterSeconds}
	}
	return env
}

// String returns the JSON representation (best-effort) for logging purposes.
func (e Envelope) String() string {
	out, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(out)
}
