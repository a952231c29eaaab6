package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"thirdcoast.systems/allthethings/internal/jobs"
)

// payload is the completion document the provider posts for either job type.
type payload struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Error  json.RawMessage `json:"error"`
	Output json.RawMessage `json:"output"`
}

type transcriptionOutput struct {
	Transcription *string `json:"transcription"`
}

func decodePayload(body []byte) (payload, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	p.ID = strings.TrimSpace(p.ID)
	return p, nil
}

// failed reports whether the payload describes a failed job, and with what
// message.
func (p payload) failed() (string, bool) {
	if msg := jobs.ErrorMessage(p.Error, ""); msg != "" {
		return msg, true
	}
	switch strings.ToLower(p.Status) {
	case "failed", "canceled":
		return "job " + strings.ToLower(p.Status), true
	}
	return "", false
}

func (p payload) transcription() (string, error) {
	if isNull(p.Output) {
		return "", fmt.Errorf("%w: missing output", ErrMalformedPayload)
	}
	var out transcriptionOutput
	if err := json.Unmarshal(p.Output, &out); err != nil {
		return "", fmt.Errorf("%w: output: %v", ErrMalformedPayload, err)
	}
	if out.Transcription == nil {
		return "", fmt.Errorf("%w: missing output.transcription", ErrMalformedPayload)
	}
	return *out.Transcription, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
