package tools

import (
	"encoding/json"
	"reflect"
	"time"
)

// Status is the closed outcome taxonomy of a tool call.
type Status string

const (
	// StatusSuccess means the first attempt returned data.
	StatusSuccess Status = "success"
	// StatusRetried means data arrived after at least one retry.
	StatusRetried Status = "retried"
	// StatusFailed means every attempt failed and the last failure was not a timeout.
	StatusFailed Status = "failed"
	// StatusTimeout means every attempt failed and the last failure was a timeout.
	StatusTimeout Status = "timeout"
)

// OK reports whether the status carries data.
func (s Status) OK() bool {
	return s == StatusSuccess || s == StatusRetried
}

// Result is the uniform envelope returned by every router call.
// Data is set only when Status.OK(); Error only when it is not.
type Result struct {
	ToolType      string
	Query         map[string]any
	Status        Status
	Data          any
	Error         string
	Retries       int
	ExecutionTime time.Duration
	Timestamp     time.Time
}

// OK reports whether the call produced data.
func (r Result) OK() bool {
	return r.Status.OK() && r.Data != nil
}

type resultJSON struct {
	ToolType      string         `json:"tool_type"`
	Query         map[string]any `json:"query"`
	Status        Status         `json:"status"`
	Data          any            `json:"data"`
	Error         *string        `json:"error"`
	Retries       int            `json:"retries"`
	ExecutionTime float64        `json:"execution_time"`
	Timestamp     time.Time      `json:"timestamp"`
}

// MarshalJSON renders execution time in seconds and a null error on success.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		ToolType:      r.ToolType,
		Query:         r.Query,
		Status:        r.Status,
		Data:          r.Data,
		Retries:       r.Retries,
		ExecutionTime: r.ExecutionTime.Seconds(),
		Timestamp:     r.Timestamp,
	}
	if r.Error != "" {
		e := r.Error
		out.Error = &e
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var in resultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Result{
		ToolType:      in.ToolType,
		Query:         in.Query,
		Status:        in.Status,
		Data:          in.Data,
		Retries:       in.Retries,
		ExecutionTime: time.Duration(in.ExecutionTime * float64(time.Second)),
		Timestamp:     in.Timestamp,
	}
	if in.Error != nil {
		r.Error = *in.Error
	}
	return nil
}

// RawAnswer serialises the payload for traces; failed calls render their error.
func (r Result) RawAnswer() string {
	if !r.OK() {
		if r.Error == "" {
			return "no data"
		}
		return r.Error
	}
	if s, ok := r.Data.(string); ok {
		return s
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return ""
	}
	return string(b)
}

// isEmpty reports whether a handler payload carries nothing useful.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// copyParams returns a shallow copy so the caller can reuse its map.
func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
