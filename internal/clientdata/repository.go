// Package clientdata stores the audit trail of outbound API and LLM calls.
// Rows are append-only and pruned by age.
package clientdata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AllTables lists the audit tables in market.db for cleanup operations.
var AllTables = []string{
	"api_call_logs",
	"llm_call_logs",
}

var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// LLMCallLog is one audited model call
type LLMCallLog struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	Prompt         string    `json:"prompt"`
	Response       string    `json:"response,omitempty"`
	StatusCode     int       `json:"statusCode"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	PromptTokens   *int      `json:"promptTokens,omitempty"`
	ResponseTokens *int      `json:"responseTokens,omitempty"`
	TotalTokens    *int      `json:"totalTokens,omitempty"`
	DurationMs     int64     `json:"durationMs"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Repository persists call logs
type Repository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a new call log repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repo", "clientdata").Logger(),
	}
}

func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid table name: %s", table)
	}
	return nil
}

// RecordAPICall appends a brokerage call row
func (r *Repository) RecordAPICall(ctx context.Context, entry domain.APICallLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_call_logs
			(id, provider, endpoint, method, request_body, response_body, status_code, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Provider, entry.Endpoint, entry.Method,
		nullString(entry.RequestBody), nullString(entry.ResponseBody),
		entry.StatusCode, boolToInt(entry.Success), nullString(entry.ErrorMessage),
		entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert api call log: %w", err)
	}
	return nil
}

// RecordLLMCall appends a model call row
func (r *Repository) RecordLLMCall(ctx context.Context, entry LLMCallLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO llm_call_logs
			(id, provider, model, prompt, response, status_code, success, error_message,
			 prompt_tokens, response_tokens, total_tokens, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Provider, entry.Model, entry.Prompt, nullString(entry.Response),
		entry.StatusCode, boolToInt(entry.Success), nullString(entry.ErrorMessage),
		nullInt(entry.PromptTokens), nullInt(entry.ResponseTokens), nullInt(entry.TotalTokens),
		entry.DurationMs, entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert llm call log: %w", err)
	}
	return nil
}

// CallLogQuery filters and pages the audit tables. Match is a substring of the
// endpoint for API calls and of the model for LLM calls.
type CallLogQuery struct {
	Match    string
	Success  *bool
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

const maxPageSize = 200

func (q CallLogQuery) normalized() CallLogQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	return q
}

func (q CallLogQuery) where(matchColumn string) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if q.Match != "" {
		clauses = append(clauses, matchColumn+" LIKE ?")
		args = append(args, "%"+q.Match+"%")
	}
	if q.Success != nil {
		clauses = append(clauses, "success = ?")
		args = append(args, boolToInt(*q.Success))
	}
	if !q.From.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, q.From.Unix())
	}
	if !q.To.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, q.To.Unix())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *Repository) count(ctx context.Context, table, where string, args []interface{}) (int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return total, nil
}

// ListAPICalls returns one page of brokerage call rows, newest first, and the
// total number of matching rows
func (r *Repository) ListAPICalls(ctx context.Context, q CallLogQuery) ([]domain.APICallLog, int, error) {
	q = q.normalized()
	where, args := q.where("endpoint")

	total, err := r.count(ctx, "api_call_logs", where, args)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, provider, endpoint, method, request_body, response_body, status_code, success, error_message, created_at
		FROM api_call_logs`+where+`
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, append(args, q.PageSize, (q.Page-1)*q.PageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query api call logs: %w", err)
	}
	defer rows.Close()

	out := []domain.APICallLog{}
	for rows.Next() {
		var (
			e                      domain.APICallLog
			reqBody, resBody, errM sql.NullString
			success                int
			createdAt              int64
		)
		if err := rows.Scan(&e.ID, &e.Provider, &e.Endpoint, &e.Method, &reqBody, &resBody,
			&e.StatusCode, &success, &errM, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan api call log: %w", err)
		}
		e.RequestBody = reqBody.String
		e.ResponseBody = resBody.String
		e.ErrorMessage = errM.String
		e.Success = success != 0
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// ListLLMCalls returns one page of model call rows, newest first, and the
// total number of matching rows
func (r *Repository) ListLLMCalls(ctx context.Context, q CallLogQuery) ([]LLMCallLog, int, error) {
	q = q.normalized()
	where, args := q.where("model")

	total, err := r.count(ctx, "llm_call_logs", where, args)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, provider, model, prompt, response, status_code, success, error_message,
		       prompt_tokens, response_tokens, total_tokens, duration_ms, created_at
		FROM llm_call_logs`+where+`
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, append(args, q.PageSize, (q.Page-1)*q.PageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query llm call logs: %w", err)
	}
	defer rows.Close()

	out := []LLMCallLog{}
	for rows.Next() {
		var (
			e                      LLMCallLog
			response, errM         sql.NullString
			promptT, respT, totalT sql.NullInt64
			success                int
			createdAt              int64
		)
		if err := rows.Scan(&e.ID, &e.Provider, &e.Model, &e.Prompt, &response, &e.StatusCode,
			&success, &errM, &promptT, &respT, &totalT, &e.DurationMs, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan llm call log: %w", err)
		}
		e.Response = response.String
		e.ErrorMessage = errM.String
		e.PromptTokens = intPtr(promptT)
		e.ResponseTokens = intPtr(respT)
		e.TotalTokens = intPtr(totalT)
		e.Success = success != 0
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// DeleteOlderThan removes rows created before cutoff and returns the count
func (r *Repository) DeleteOlderThan(table string, cutoff time.Time) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}

	res, err := r.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", table), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old rows from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// DeleteAllOlderThan prunes every audit table
func (r *Repository) DeleteAllOlderThan(cutoff time.Time) (map[string]int64, error) {
	results := make(map[string]int64, len(AllTables))
	for _, table := range AllTables {
		n, err := r.DeleteOlderThan(table, cutoff)
		if err != nil {
			return results, err
		}
		results[table] = n
	}
	return results, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
