package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// SchemaExecutor runs DDL against a freshly provisioned project through its
// SQL RPC endpoint, authenticated with the project's service-role key. A
// transient client is built per project; nothing is cached.
type SchemaExecutor struct {
	projectDomain string
	httpClient    *http.Client
	maxAttempts   int
	retryDelay    time.Duration

	// endpoint overrides the derived project URL when set (tests only)
	endpoint string
}

// NewSchemaExecutor returns an executor deriving project URLs from the given
// platform domain (e.g. "easbase.dev")
func NewSchemaExecutor(projectDomain string) *SchemaExecutor {
	return &SchemaExecutor{
		projectDomain: projectDomain,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxAttempts: 3,
		retryDelay:  2 * time.Second,
	}
}

// Apply executes the given SQL against the project. The DDL templates are
// idempotent (IF NOT EXISTS), so transient failures are retried a bounded
// number of times before giving up with SchemaApplicationError.
func (e *SchemaExecutor) Apply(ctx context.Context, projectRef, serviceRoleKey, sqlText string) error {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		lastErr = e.execute(ctx, projectRef, serviceRoleKey, sqlText)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			break
		}
		log.Printf("SchemaExecutor: attempt %d/%d for %s failed: %v", attempt, e.maxAttempts, projectRef, lastErr)

		if attempt == e.maxAttempts {
			break
		}
		timer := time.NewTimer(e.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &SchemaApplicationError{ProjectRef: projectRef, Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return &SchemaApplicationError{ProjectRef: projectRef, Err: lastErr}
}

func (e *SchemaExecutor) execute(ctx context.Context, projectRef, serviceRoleKey, sqlText string) error {
	payload, err := json.Marshal(map[string]string{"query": sqlText})
	if err != nil {
		return fmt.Errorf("failed to encode SQL payload: %v", err)
	}

	url := e.endpoint
	if url == "" {
		url = fmt.Sprintf("https://%s.%s/rest/v1/rpc/exec_sql", projectRef, e.projectDomain)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+serviceRoleKey)
	req.Header.Set("apikey", serviceRoleKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: "apply schema", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode >= 500:
		return &TransientError{Op: "apply schema", Err: fmt.Errorf("project returned %d: %s", resp.StatusCode, string(body))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("project returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
