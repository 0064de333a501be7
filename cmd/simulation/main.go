package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ksred/klear-confirm/internal/entity"
	"github.com/ksred/klear-confirm/internal/ledger"
	"github.com/ksred/klear-confirm/internal/mailbox"
	"github.com/ksred/klear-confirm/internal/poller"
	"github.com/ksred/klear-confirm/internal/store"
	"github.com/ksred/klear-confirm/internal/types"
	"github.com/ksred/klear-confirm/pkg/logger"
)

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate returns min, max, mean, median, p95 and p99 of the recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient drives the confirmation API over HTTP
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
	order     []string
	log       zerolog.Logger
}

func newSimulationClient(baseURL, apiKey, apiSecret string, log zerolog.Logger) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 90 * time.Second},
		stats:   map[string]*routeStats{},
		log:     log,
	}
	for _, r := range []struct{ key, name string }{
		{"auth", "Authentication"},
		{"poll", "Poll Mailbox"},
		{"matches", "List Matches"},
		{"status", "Update Status"},
		{"undo", "Undo Status"},
		{"history", "Status History"},
		{"clear", "Clear Store"},
	} {
		sc.stats[r.key] = &routeStats{name: r.name}
		sc.order = append(sc.order, r.key)
	}

	token, err := sc.authenticate(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token
	return sc, nil
}

// envelope is the response shape of non-ledger endpoints
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one request, records its latency under route and decodes
// the response body into out
func (sc *simulationClient) call(route, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	stats := sc.stats[route]
	start := time.Now()
	resp, err := sc.client.Do(req)
	stats.addDuration(time.Since(start))
	if err != nil {
		stats.failures++
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		stats.failures++
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", route, err)
		}
	}
	return resp.StatusCode, nil
}

func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	var env envelope
	code, err := sc.call("auth", http.MethodPost, "/api/v1/auth/token", map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}, &env)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		return "", fmt.Errorf("authentication failed with status: %d", code)
	}

	var token struct {
		Token string `json:"jwt_token"`
	}
	if err := json.Unmarshal(env.Data, &token); err != nil {
		return "", err
	}
	return token.Token, nil
}

func (sc *simulationClient) poll() (*poller.CycleResult, error) {
	var env envelope
	code, err := sc.call("poll", http.MethodPost, "/api/v1/internal/poll", nil, &env)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("poll failed with status: %d", code)
	}
	var result poller.CycleResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (sc *simulationClient) matches() ([]types.EmailMatchRecord, error) {
	var env envelope
	if _, err := sc.call("matches", http.MethodGet, "/api/v1/ledger/matches", nil, &env); err != nil {
		return nil, err
	}
	var out []types.EmailMatchRecord
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (sc *simulationClient) ledgerOp(route, path string, body interface{}) (types.Result, int, error) {
	var res types.Result
	code, err := sc.call(route, http.MethodPost, path, body, &res)
	return res, code, err
}

func (sc *simulationClient) history(tradeID int) ([]ledger.StatusChange, error) {
	var env envelope
	if _, err := sc.call("history", http.MethodGet, fmt.Sprintf("/api/v1/ledger/history/%d", tradeID), nil, &env); err != nil {
		return nil, err
	}
	var out []ledger.StatusChange
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, key := range sc.order {
		stats := sc.stats[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main seeds a data directory and/or exercises a running server in replay mode
func main() {
	var (
		dataDir   = flag.String("data-dir", "./data", "data directory to seed")
		folder    = flag.String("folder", "Inbox/Confirmations", "mailbox folder to deliver into")
		seed      = flag.Bool("seed", true, "write sample trades, entities and emails before running")
		run       = flag.Bool("run", true, "exercise the API of a running server")
		baseURL   = flag.String("url", "http://localhost:5005", "server base URL")
		apiKey    = flag.String("api-key", os.Getenv("API_KEY"), "operator API key")
		apiSecret = flag.String("api-secret", os.Getenv("API_SECRET"), "operator API secret")
		rounds    = flag.Int("rounds", 3, "update/undo rounds per differing entry")
		clearAll  = flag.Bool("clear", false, "clear both stores at the end")
	)
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Pretty: true}).With().Str("component", "simulation").Logger()

	if *seed {
		ids, err := seedData(*dataDir, *folder, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to seed data directory")
		}
		log.Info().Strs("message_ids", ids).Str("data_dir", *dataDir).Msg("Seeded data directory")
	}
	if !*run {
		return
	}

	simClient, err := newSimulationClient(*baseURL, *apiKey, *apiSecret, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	result, err := simClient.poll()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to run polling cycle")
	}
	log.Info().
		Int("fetched", result.Fetched).
		Int("reconciled", result.Reconciled).
		Int("not_confirmations", result.NotConfirmations).
		Int("failed", result.Failed).
		Msg("Polling cycle complete")

	entries, err := simClient.matches()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list matches")
	}

	statuses := map[string]int{}
	for _, e := range entries {
		statuses[e.Status]++
	}
	log.Info().Int("entries", len(entries)).Interface("by_status", statuses).Msg("Match ledger")

	for _, e := range entries {
		if e.Status != types.StatusDifference {
			continue
		}
		for i := 0; i < *rounds; i++ {
			res, code, err := simClient.ledgerOp("status", "/api/v1/ledger/status", map[string]interface{}{
				"emailId": e.InferredTradeID,
				"status":  "Resolved",
			})
			if err != nil || !res.Success {
				log.Error().Err(err).Int("code", code).Str("message", res.Message).Msg("Status update failed")
				continue
			}
			res, code, err = simClient.ledgerOp("undo", "/api/v1/ledger/undo", map[string]interface{}{
				"emailId": e.InferredTradeID,
			})
			if err != nil || !res.Success {
				log.Error().Err(err).Int("code", code).Str("message", res.Message).Msg("Undo failed")
			}
		}

		changes, err := simClient.history(e.InferredTradeID)
		if err != nil {
			log.Error().Err(err).Int("inferred_trade_id", e.InferredTradeID).Msg("Failed to read history")
			continue
		}
		log.Info().Int("inferred_trade_id", e.InferredTradeID).Int("changes", len(changes)).Msg("Status history")
	}

	// An unknown entry must be reported, not fail the server
	res, code, _ := simClient.ledgerOp("status", "/api/v1/ledger/status", map[string]interface{}{
		"emailId": -1,
		"status":  "Resolved",
	})
	log.Info().Int("code", code).Str("message", res.Message).Msg("Unknown entry update")

	if *clearAll {
		for _, kind := range []string{types.StoreEmailMatches, types.StoreIdentifiedTrades} {
			res, code, err := simClient.ledgerOp("clear", "/api/v1/ledger/clear", map[string]string{"fileType": kind})
			if err != nil {
				log.Error().Err(err).Str("file_type", kind).Msg("Clear failed")
				continue
			}
			log.Info().Int("code", code).Str("message", res.Message).Msg("Store cleared")
		}
	}

	simClient.printPerformanceStats()
}

// seedData writes a sample trade repository, entity directory and four
// replayable emails: confirmed, differing, unrecognized and not relevant
func seedData(dataDir, folder string, log zerolog.Logger) ([]string, error) {
	trades, err := store.NewJSONStore[types.TradeRecord](filepath.Join(dataDir, "unmatched_trades.json"), log)
	if err != nil {
		return nil, err
	}
	if err := trades.Truncate(); err != nil {
		return nil, err
	}
	if err := trades.Append(sampleTrades()...); err != nil {
		return nil, err
	}

	entities, err := store.NewJSONStore[entity.Entry](filepath.Join(dataDir, "email_entities.json"), log)
	if err != nil {
		return nil, err
	}
	if err := entities.Truncate(); err != nil {
		return nil, err
	}
	if err := entities.Append(entity.Entry{
		Email:             "confirmations@acme-bank.com",
		EntityName:        "Acme Bank",
		EntityDisplayName: "Acme Bank S.A.",
		ClientID:          "CL-001",
	}); err != nil {
		return nil, err
	}

	mb, err := mailbox.NewDir(filepath.Join(dataDir, "mailbox"), folder, log)
	if err != nil {
		return nil, err
	}

	emails := []struct {
		subject    string
		body       string
		extraction map[string]interface{}
	}{
		{
			subject: "Confirmation trade 1001",
			body:    "We confirm trade 1001 as booked.",
			extraction: extractionDoc("yes", map[string]interface{}{
				"TradeNumber": "1001", "Confirmation_OK": "yes",
			}),
		},
		{
			subject: "Confirmation trade 1002",
			body:    "Please review amount for trade 1002.",
			extraction: extractionDoc("yes", map[string]interface{}{
				"TradeNumber": "1002", "Confirmation_OK": "no", "QuantityCurrency1": 950000,
			}),
		},
		{
			subject: "Confirmation trade 9999",
			body:    "Trade 9999 confirmation.",
			extraction: extractionDoc("yes", map[string]interface{}{
				"TradeNumber": "9999", "Confirmation_OK": "yes", "Currency1": "USD",
			}),
		},
		{
			subject:    "Lunch on Friday?",
			body:       "Are you free on Friday?",
			extraction: extractionDoc("no"),
		},
	}

	sender := "confirmations=acme-bank.com@sandbox.mgsend.net"
	var ids []string
	for i, e := range emails {
		id := uuid.New().String()
		subject, body := e.subject, e.body
		at := time.Now().Add(time.Duration(i) * time.Second)
		if err := mb.Deliver(mailbox.Message{
			ID:         id,
			Subject:    &subject,
			Sender:     &sender,
			ReceivedAt: &at,
			Body:       &body,
		}); err != nil {
			return nil, err
		}

		raw, err := json.MarshalIndent(e.extraction, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(mb.Path(), id+mailbox.ExtractionSuffix), raw, 0o644); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func extractionDoc(confirmation string, trades ...map[string]interface{}) map[string]interface{} {
	if trades == nil {
		trades = []map[string]interface{}{}
	}
	return map[string]interface{}{
		"Email": map[string]interface{}{
			"Email_subject": "",
			"Email_sender":  "confirmations@acme-bank.com",
			"Confirmation":  confirmation,
			"Num_trades":    len(trades),
		},
		"Trades": trades,
	}
}

func sampleTrades() []types.TradeRecord {
	base := types.TradeRecord{
		CounterpartyID:     "CL-001",
		CounterpartyName:   "Acme Bank",
		ProductType:        "FX Forward",
		Currency1:          "USD",
		Currency2:          "CLP",
		Buyer:              "Acme Bank",
		Seller:             "Klear",
		SettlementType:     types.SettlementNonDeliverable,
		SettlementCurrency: "USD",
		ValueDate:          "05-03-2025",
		MaturityDate:       "05-06-2025",
		PaymentDate:        "07-06-2025",
		Duration:           92,
		FixingReference:    "USD Observado",
	}

	t1 := base
	t1.TradeNumber = "1001"
	t1.QuantityCurrency1 = decimal.NewFromInt(1000000)
	t1.QuantityCurrency2 = decimal.NewFromInt(950000000)
	t1.ForwardPrice = decimal.RequireFromString("950.25")

	t2 := base
	t2.TradeNumber = "1002"
	t2.QuantityCurrency1 = decimal.NewFromInt(1000000)
	t2.QuantityCurrency2 = decimal.NewFromInt(948000000)
	t2.ForwardPrice = decimal.RequireFromString("948.10")

	return []types.TradeRecord{t1, t2}
}
