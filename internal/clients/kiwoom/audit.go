package kiwoom

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/tradeagent/internal/domain"
)

const (
	redactedValue  = "***"
	auditProvider  = "kiwoom"
	maxAuditLength = 64 * 1024
)

var sensitiveKeys = map[string]struct{}{
	"appkey":        {},
	"secretkey":     {},
	"access_token":  {},
	"token":         {},
	"refresh_token": {},
}

// redact returns a deep copy of v with credential fields masked
func redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if _, secret := sensitiveKeys[k]; secret {
				if s, ok := val.(string); ok && s != "" {
					out[k] = redactedValue
					continue
				}
			}
			out[k] = redact(val)
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = val
		}
		return redact(out)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = redact(val)
		}
		return out
	default:
		return v
	}
}

// auditJSON renders a redacted body for the audit row
func auditJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	if _, isMap := v.(map[string]interface{}); !isMap {
		// Structs are normalized through JSON so nested credential keys are still found
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		var generic interface{}
		if json.Unmarshal(raw, &generic) == nil {
			v = generic
		}
	}
	data, err := json.Marshal(redact(v))
	if err != nil {
		return ""
	}
	if len(data) > maxAuditLength {
		return string(data[:maxAuditLength])
	}
	return string(data)
}

// recordCall writes one audit row; failures never reach the caller
func (c *Client) recordCall(ctx context.Context, method, endpoint string, request, response interface{}, status int, success bool) {
	if c.audit == nil {
		return
	}

	entry := domain.APICallLog{
		ID:           uuid.NewString(),
		Provider:     auditProvider,
		Endpoint:     endpoint,
		Method:       method,
		RequestBody:  auditJSON(request),
		ResponseBody: auditJSON(response),
		StatusCode:   status,
		Success:      success,
		CreatedAt:    time.Now(),
	}
	if !success {
		entry.ErrorMessage = entry.ResponseBody
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.audit.RecordAPICall(auditCtx, entry); err != nil {
		c.log.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to record API call")
	}
}
