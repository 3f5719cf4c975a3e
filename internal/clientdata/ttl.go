package clientdata

import "time"

// Retention windows for audit rows
const (
	RetentionAPICalls = 14 * 24 * time.Hour
	RetentionLLMCalls = 30 * 24 * time.Hour
)

// retentionFor returns the retention window for a table
func retentionFor(table string) time.Duration {
	switch table {
	case "llm_call_logs":
		return RetentionLLMCalls
	default:
		return RetentionAPICalls
	}
}
