package domain

import (
	"context"
	"time"
)

// APICallLog is one audited brokerage call. Bodies are stored already redacted.
type APICallLog struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	RequestBody  string    `json:"requestBody"`
	ResponseBody string    `json:"responseBody"`
	StatusCode   int       `json:"statusCode"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AuditRecorder persists API call logs
type AuditRecorder interface {
	RecordAPICall(ctx context.Context, entry APICallLog) error
}
