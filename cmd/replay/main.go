// Replay tool for running labelled transaction data through Kestrel.
//
// Usage:
//
//	go run ./cmd/replay -csv /path/to/transactions.csv -url http://localhost:8080
//
// This tool:
//  1. Reads transactions from CSV (an Is_Fraud column is optional)
//  2. Scores each one through POST /sessions/{id}/score, one session per worker
//  3. Tallies decisions and, when labels are present, a confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Transaction is one CSV row.
type Transaction struct {
	Amount           float64
	HourOfDay        int
	DistanceFromHome float64
	IsInternational  bool
	IsPinUsed        bool
	IsChipUsed       bool
	MerchantCategory string

	// Label is nil when the file carries no fraud label.
	Label *bool
}

// ScoreRequest is the Kestrel score request format.
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

// ScoreResponse is the part of the Kestrel score response the tool reads.
type ScoreResponse struct {
	EvaluationID string   `json:"evaluationId"`
	Decision     string   `json:"decision"`
	AnomalyScore float64  `json:"anomalyScore"`
	ModelFlag    bool     `json:"modelFlag"`
	Reasons      []string `json:"reasons"`
}

// Metrics tracks replay results.
type Metrics struct {
	TruePositives  int64 // Fraud flagged
	FalsePositives int64 // Non-fraud flagged
	TrueNegatives  int64 // Non-fraud passed
	FalseNegatives int64 // Fraud passed (missed fraud!)

	FraudAlerts int64
	Suspicious  int64
	Normal      int64
	Failed      int64

	TotalProcessed int64
	TotalLabelled  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

// Record tallies one result. A transaction counts as flagged when the
// decision is FRAUD_ALERT, or SUSPICIOUS if flagSuspicious is set.
func (m *Metrics) Record(tx Transaction, decision string, flagSuspicious bool) {
	switch decision {
	case "FRAUD_ALERT":
		atomic.AddInt64(&m.FraudAlerts, 1)
	case "SUSPICIOUS":
		atomic.AddInt64(&m.Suspicious, 1)
	case "NORMAL":
		atomic.AddInt64(&m.Normal, 1)
	default:
		atomic.AddInt64(&m.Failed, 1)
		return
	}

	if tx.Label == nil {
		return
	}
	atomic.AddInt64(&m.TotalLabelled, 1)

	predicted := decision == "FRAUD_ALERT" || (flagSuspicious && decision == "SUSPICIOUS")
	actual := *tx.Label

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func main() {
	csvPath := flag.String("csv", "", "Path to transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	threshold := flag.Float64("threshold", 0, "Anomaly threshold override (0 = server default)")
	flagSuspicious := flag.Bool("flag-suspicious", false, "Count SUSPICIOUS as a fraud prediction")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var thresholdOverride *float64
	if *threshold != 0 {
		thresholdOverride = threshold
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                 KESTREL REPLAY - Fraud Scoring                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	transactions, skipped, err := ReadTransactions(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions (%d malformed rows skipped)\n", len(transactions), skipped)

	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runReplay(transactions, *baseURL, *workers, thresholdOverride, *flagSuspicious, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Column names, matched case-insensitively.
const (
	colAmount        = "amount"
	colHour          = "hour_of_day"
	colDistance      = "distance_from_home"
	colInternational = "is_international"
	colPin           = "is_pin_used"
	colChip          = "is_chip_used"
	colMerchant      = "merchant_category"
	colFraud         = "is_fraud"
)

// ReadTransactions parses CSV rows up to limit (0 = all). Amount and
// Hour_of_Day are required columns; malformed rows are skipped and counted.
func ReadTransactions(r io.Reader, limit int) ([]Transaction, int, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{colAmount, colHour} {
		if _, ok := colIndex[required]; !ok {
			return nil, 0, fmt.Errorf("missing required column %q", required)
		}
	}

	var transactions []Transaction
	skipped := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		tx, err := parseRow(record, colIndex)
		if err != nil {
			skipped++
			continue
		}
		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, skipped, nil
}

func parseRow(record []string, colIndex map[string]int) (Transaction, error) {
	field := func(name string) (string, bool) {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}

	var tx Transaction
	var err error

	v, _ := field(colAmount)
	if tx.Amount, err = strconv.ParseFloat(v, 64); err != nil {
		return tx, fmt.Errorf("amount: %w", err)
	}
	v, _ = field(colHour)
	if tx.HourOfDay, err = strconv.Atoi(v); err != nil {
		return tx, fmt.Errorf("hour: %w", err)
	}
	if v, ok := field(colDistance); ok && v != "" {
		if tx.DistanceFromHome, err = strconv.ParseFloat(v, 64); err != nil {
			return tx, fmt.Errorf("distance: %w", err)
		}
	}

	tx.IsInternational = parseFlag(field(colInternational))
	tx.IsPinUsed = parseFlag(field(colPin))
	tx.IsChipUsed = parseFlag(field(colChip))

	if v, ok := field(colMerchant); ok {
		tx.MerchantCategory = v
	}

	if v, ok := field(colFraud); ok && v != "" {
		label := parseFlag(v, true)
		tx.Label = &label
	}

	return tx, nil
}

// parseFlag accepts 1/0, true/false and yes/no.
func parseFlag(v string, ok bool) bool {
	if !ok {
		return false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func runReplay(transactions []Transaction, baseURL string, numWorkers int, threshold *float64, flagSuspicious, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Transaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			sessionID, err := createSession(client, baseURL)
			if err != nil {
				fmt.Printf("ERROR: failed to create session: %v\n", err)
				for range work {
					atomic.AddInt64(&metrics.TotalErrors, 1)
				}
				return
			}
			defer endSession(client, baseURL, sessionID)

			for tx := range work {
				start := time.Now()
				result, err := scoreTransaction(client, baseURL, sessionID, tx, threshold)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: amount %.2f -> %v\n", tx.Amount, err)
					}
					continue
				}

				metrics.Record(tx, result.Decision, flagSuspicious)

				if verbose {
					label := "-"
					if tx.Label != nil {
						label = strconv.FormatBool(*tx.Label)
					}
					fmt.Printf("Amount: %12.2f | Hour: %2d | Intl: %-5v | Fraud: %-5s | %-11s (%.4f) %s\n",
						tx.Amount,
						tx.HourOfDay,
						tx.IsInternational,
						label,
						result.Decision,
						result.AnomalyScore,
						strings.Join(result.Reasons, " / "),
					)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func createSession(client *http.Client, baseURL string) (string, error) {
	resp, err := client.Post(baseURL+"/sessions", "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.SessionID, nil
}

func endSession(client *http.Client, baseURL, sessionID string) {
	req, err := http.NewRequest(http.MethodDelete, baseURL+"/sessions/"+sessionID, nil)
	if err != nil {
		return
	}
	if resp, err := client.Do(req); err == nil {
		resp.Body.Close()
	}
}

func scoreTransaction(client *http.Client, baseURL, sessionID string, tx Transaction, threshold *float64) (*ScoreResponse, error) {
	req := ScoreRequest{
		Amount:           tx.Amount,
		Threshold:        threshold,
		HourOfDay:        tx.HourOfDay,
		DistanceFromHome: tx.DistanceFromHome,
		IsInternational:  tx.IsInternational,
		IsPinUsed:        tx.IsPinUsed,
		IsChipUsed:       tx.IsChipUsed,
		MerchantCategory: tx.MerchantCategory,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/sessions/"+sessionID+"/score", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        REPLAY RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DECISIONS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Fraud Alerts:     %d\n", m.FraudAlerts)
	fmt.Printf("   Suspicious:       %d\n", m.Suspicious)
	fmt.Printf("   Normal:           %d\n", m.Normal)
	fmt.Printf("   Scoring Failures: %d\n", m.Failed)
	fmt.Printf("   Request Errors:   %d\n", m.TotalErrors)

	if m.TotalLabelled > 0 {
		fmt.Printf("\n📈 CONFUSION MATRIX (%d labelled)\n", m.TotalLabelled)
		fmt.Println("                        Predicted")
		fmt.Println("                   Fraud     Not Fraud")
		fmt.Println("              ┌──────────┬──────────┐")
		fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
		fmt.Println("              ├──────────┼──────────┤")
		fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
		fmt.Println("              └──────────┴──────────┘")

		precision, recall, f1, accuracy := m.Scores()
		fmt.Printf("\n🎯 DETECTION METRICS\n")
		fmt.Printf("   Precision:  %.4f\n", precision)
		fmt.Printf("   Recall:     %.4f\n", recall)
		fmt.Printf("   F1-Score:   %.4f\n", f1)
		fmt.Printf("   Accuracy:   %.4f\n", accuracy)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}

// Scores returns precision, recall, F1 and accuracy over labelled rows.
func (m *Metrics) Scores() (precision, recall, f1, accuracy float64) {
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	return precision, recall, f1, accuracy
}
