//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running Kestrel server.
//
// These tests verify the COMPLETE scoring pipeline:
//
//	Transaction → Feature Vector → Rules → Scaler → Isolation Forest → Decision → History
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must be started with the built-in rules and real artifacts:
//
//	KESTREL_ARTIFACTS_DIR=./artifacts go run ./cmd/kestrel
//
// UNDERSTANDING THE DOMAIN:
//
// 1. RULES fire on the raw transaction, in a fixed order:
//
//	| Rule          | Fires When                 | Tag            |
//	|---------------|----------------------------|----------------|
//	| high-amount   | amount > 50000             | high amount    |
//	| unusual-hour  | hour < 6 or hour > 22      | strange time   |
//	| international | isInternational            | international  |
//
// 2. The MODEL returns an anomaly score (lower = more suspicious) and an
// outlier flag.
//
// 3. DECISION, by priority:
//   - model flags outlier, or score < threshold → FRAUD_ALERT
//   - any rule fired                           → SUSPICIOUS
//   - otherwise                                → NORMAL
//
// Model scores depend on the trained artifacts, so assertions below only pin
// what the rules and the priority law guarantee.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// ScoreRequest is the transaction sent to POST /sessions/{id}/score
type ScoreRequest struct {
	Amount           float64  `json:"amount"`
	Threshold        *float64 `json:"threshold,omitempty"`
	HourOfDay        int      `json:"hourOfDay"`
	DistanceFromHome float64  `json:"distanceFromHome"`
	IsInternational  bool     `json:"isInternational"`
	IsPinUsed        bool     `json:"isPinUsed"`
	IsChipUsed       bool     `json:"isChipUsed"`
	MerchantCategory string   `json:"merchantCategory"`
}

// HistoryTable is the session history view
type HistoryTable struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// ScoreResponse is the scoring result
type ScoreResponse struct {
	EvaluationID string       `json:"evaluationId"`
	Decision     string       `json:"decision"`
	Result       string       `json:"result"`
	ScoreMessage string       `json:"scoreMessage"`
	RuleWarning  string       `json:"ruleWarning"`
	AnomalyScore float64      `json:"anomalyScore"`
	ModelFlag    bool         `json:"modelFlag"`
	Reasons      []string     `json:"reasons"`
	History      HistoryTable `json:"history"`
}

// ============================================================================
// Helpers
// ============================================================================

func send(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func newSession(t *testing.T, config TestConfig) string {
	t.Helper()

	status, body := send(t, http.MethodPost, config.BaseURL+"/sessions", nil)
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", status, string(body))
	}

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	t.Cleanup(func() {
		send(t, http.MethodDelete, config.BaseURL+"/sessions/"+resp.SessionID, nil)
	})
	return resp.SessionID
}

func score(t *testing.T, config TestConfig, sessionID string, req ScoreRequest) ScoreResponse {
	t.Helper()

	status, body := send(t, http.MethodPost, config.BaseURL+"/sessions/"+sessionID+"/score", req)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var result ScoreResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

func quietTransaction() ScoreRequest {
	return ScoreRequest{
		Amount:           500,
		HourOfDay:        14,
		DistanceFromHome: 5,
		IsPinUsed:        true,
		IsChipUsed:       true,
		MerchantCategory: "Groceries",
	}
}

// ============================================================================
// SCENARIO 1: Rules
// ============================================================================

func TestNoRulesFire(t *testing.T) {
	config := getTestConfig()
	sessionID := newSession(t, config)

	result := score(t, config, sessionID, quietTransaction())

	if len(result.Reasons) != 0 {
		t.Errorf("Expected no reasons, got %v", result.Reasons)
	}
	if result.RuleWarning != "(no suspicious rules triggered)" {
		t.Errorf("Unexpected rule warning %q", result.RuleWarning)
	}
	if result.Decision == "SUSPICIOUS" {
		t.Error("SUSPICIOUS requires a rule to fire")
	}

	t.Logf("✓ Quiet transaction: decision=%s, score=%.4f", result.Decision, result.AnomalyScore)
}

func TestAllRulesFireInOrder(t *testing.T) {
	config := getTestConfig()
	sessionID := newSession(t, config)

	req := quietTransaction()
	req.Amount = 75000
	req.HourOfDay = 2
	req.IsInternational = true

	result := score(t, config, sessionID, req)

	want := "⚠ Suspicious pattern: high amount / strange time / international"
	if result.RuleWarning != want {
		t.Errorf("Expected %q, got %q", want, result.RuleWarning)
	}
	if result.Decision != "SUSPICIOUS" && result.Decision != "FRAUD_ALERT" {
		t.Errorf("Expected SUSPICIOUS or FRAUD_ALERT, got %s", result.Decision)
	}
}

func TestRuleBoundaries(t *testing.T) {
	config := getTestConfig()
	sessionID := newSession(t, config)

	cases := []struct {
		name    string
		amount  float64
		hour    int
		reasons int
	}{
		{"AmountAtLimit", 50000, 12, 0},
		{"AmountAboveLimit", 50000.01, 12, 1},
		{"HourSix", 100, 6, 0},
		{"HourFive", 100, 5, 1},
		{"HourTwentyTwo", 100, 22, 0},
		{"HourTwentyThree", 100, 23, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := quietTransaction()
			req.Amount = tc.amount
			req.HourOfDay = tc.hour

			result := score(t, config, sessionID, req)
			if len(result.Reasons) != tc.reasons {
				t.Errorf("Expected %d reasons, got %v", tc.reasons, result.Reasons)
			}
		})
	}
}

// ============================================================================
// SCENARIO 2: Threshold
// ============================================================================

func TestThresholdZeroAlwaysAlerts(t *testing.T) {
	config := getTestConfig()
	sessionID := newSession(t, config)

	// Anomaly scores are always negative, so a zero threshold alerts.
	zero := 0.0
	req := quietTransaction()
	req.Threshold = &zero

	result := score(t, config, sessionID, req)
	if result.Decision != "FRAUD_ALERT" {
		t.Errorf("Expected FRAUD_ALERT at threshold 0, got %s (score %.4f)", result.Decision, result.AnomalyScore)
	}
}

// ============================================================================
// SCENARIO 3: History
// ============================================================================

func TestHistoryKeepsTenNewest(t *testing.T) {
	config := getTestConfig()
	sessionID := newSession(t, config)

	var result ScoreResponse
	for i := 0; i < 12; i++ {
		req := quietTransaction()
		req.Amount = float64(1000 + i)
		result = score(t, config, sessionID, req)
	}

	if len(result.History.Rows) != 10 {
		t.Fatalf("Expected 10 history rows, got %d", len(result.History.Rows))
	}
	if result.History.Rows[0][1] != "1002.00" {
		t.Errorf("Expected oldest kept amount 1002.00, got %s", result.History.Rows[0][1])
	}
	if result.History.Rows[9][1] != "1011.00" {
		t.Errorf("Expected newest amount 1011.00, got %s", result.History.Rows[9][1])
	}

	status, _ := send(t, http.MethodDelete, config.BaseURL+"/sessions/"+sessionID+"/history", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200 on clear, got %d", status)
	}

	status, body := send(t, http.MethodGet, config.BaseURL+"/sessions/"+sessionID+"/history", nil)
	var table HistoryTable
	json.Unmarshal(body, &table)
	if status != http.StatusOK || len(table.Rows) != 0 {
		t.Errorf("Expected empty history, got status %d with %d rows", status, len(table.Rows))
	}
}

// ============================================================================
// SCENARIO 4: Errors
// ============================================================================

func TestInvalidInput_BadRequest(t *testing.T) {
	config := getTestConfig()
	sessionID := newSession(t, config)

	req := quietTransaction()
	req.HourOfDay = 24

	status, body := send(t, http.MethodPost, config.BaseURL+"/sessions/"+sessionID+"/score", req)
	if status != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d: %s", status, string(body))
	}
}

func TestUnknownSession_NotFound(t *testing.T) {
	config := getTestConfig()

	status, _ := send(t, http.MethodPost, config.BaseURL+"/sessions/no-such-session/score", quietTransaction())
	if status != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", status)
	}
}
