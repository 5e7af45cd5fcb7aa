package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/msgtosan/taxledger-api/internal/auth"
	"github.com/msgtosan/taxledger-api/internal/database"
	"github.com/msgtosan/taxledger-api/internal/gains"
	"github.com/msgtosan/taxledger-api/internal/ledger"
	"github.com/msgtosan/taxledger-api/internal/reconciliation"
	"github.com/msgtosan/taxledger-api/internal/rules"
	"github.com/msgtosan/taxledger-api/internal/suspense"
	"github.com/msgtosan/taxledger-api/internal/truth"
	"github.com/msgtosan/taxledger-api/internal/types"
	"github.com/msgtosan/taxledger-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	minLots       = 20
	maxLots       = 120
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	period        = "2023-24"
)

var securities = []string{
	"INE002A01018", // Reliance
	"INE009A01021", // Infosys
	"INE040A01034", // HDFC Bank
	"INE467B01029", // TCS
	"INE585B01010", // Maruti
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the tax ledger API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"lots":      {name: "Ingest Lots"},
			"disposals": {name: "Ingest Disposals"},
			"prices":    {name: "Ingest Prices"},
			"golden":    {name: "Ingest Golden"},
			"gains":     {name: "Run Gains"},
			"reconcile": {name: "Run Reconciliation"},
			"report":    {name: "Gains Report"},
			"summary":   {name: "Recon Summary"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Token, nil
}

// post sends an authenticated JSON POST and decodes the response data field
// into out, tracking timing under the given stats key.
func (sc *simulationClient) post(statsKey, path string, payload, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statsKey].addDuration(time.Since(start))
	}()

	var buf io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(body)
	}

	req, err := http.NewRequest("POST", sc.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statsKey].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("POST response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[statsKey].failures++
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	envelope := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

// get sends an authenticated GET and decodes the response data field into out.
func (sc *simulationClient) get(statsKey, path string, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statsKey].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest("GET", sc.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statsKey].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("GET response")

	if resp.StatusCode != http.StatusOK {
		sc.stats[statsKey].failures++
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	envelope := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
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

// randomLot builds a random acquisition row within the simulated period
func randomLot(workerID int) ledger.LotInput {
	acquired := time.Date(2019+rand.Intn(5), time.Month(rand.Intn(12)+1), rand.Intn(28)+1, 0, 0, 0, 0, time.UTC)
	return ledger.LotInput{
		SecurityKey:        securities[rand.Intn(len(securities))],
		AssetClass:         types.AssetClassEquity,
		AcquisitionDate:    acquired,
		SourceEventID:      fmt.Sprintf("SIM-%d-%s", workerID, uuid.New().String()),
		Quantity:           decimal.NewFromInt(int64(rand.Intn(100) + 1)),
		UnitCost:           decimal.NewFromInt(int64(rand.Intn(1000) + 100)),
		AcquisitionCharges: decimal.NewFromInt(int64(rand.Intn(50))),
	}
}

// ingestLots generates and submits random acquisition batches
// Runs as a worker goroutine, counting accepted rows into acceptedChan
func ingestLots(workerID, numLots int, simClient *simulationClient, acceptedChan chan<- int) {
	batch := make([]ledger.LotInput, 0, numLots)
	for i := 0; i < numLots; i++ {
		batch = append(batch, randomLot(workerID))
	}

	var result ledger.IngestResult
	if err := simClient.post("lots", "/api/v1/ingest/lots", batch, &result); err != nil {
		log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to ingest lots")
		return
	}

	acceptedChan <- result.Accepted
	log.Info().
		Int("worker_id", workerID).
		Int("accepted", result.Accepted).
		Int("rejected", len(result.Rejected)).
		Msg("Lots ingested")
}

// main runs the tax ledger simulation
// It starts a local API server and simulates statement ingestion followed by
// gains matching and reconciliation runs
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Generate random number of lots to ingest
	targetLots := rand.Intn(maxLots-minLots) + minLots
	log.Info().Int("target_lots", targetLots).Msg("Starting simulation")

	acceptedChan := make(chan int, numWorkers)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			ingestLots(workerID, targetLots/numWorkers, simClient, acceptedChan)
		}(i)
	}

	// Wait for all lots to be ingested
	wg.Wait()
	close(acceptedChan)

	totalLots := 0
	for accepted := range acceptedChan {
		totalLots += accepted
	}
	log.Info().Int("lots_ingested", totalLots).Msg("All lots ingested")

	// Sell part of each security within the period
	disposals := make([]ledger.DisposalInput, 0, len(securities))
	for _, security := range securities {
		disposals = append(disposals, ledger.DisposalInput{
			SecurityKey:     security,
			AssetClass:      types.AssetClassEquity,
			DisposalDate:    time.Date(2023, time.Month(rand.Intn(12)+1), rand.Intn(28)+1, 0, 0, 0, 0, time.UTC),
			SourceEventID:   "SIM-SELL-" + uuid.New().String(),
			Quantity:        decimal.NewFromInt(int64(rand.Intn(50) + 1)),
			UnitProceeds:    decimal.NewFromInt(int64(rand.Intn(1500) + 200)),
			DisposalCharges: decimal.NewFromInt(int64(rand.Intn(30))),
		})
	}
	var disposalResult ledger.IngestResult
	if err := simClient.post("disposals", "/api/v1/ingest/disposals", disposals, &disposalResult); err != nil {
		log.Fatal().Err(err).Msg("Failed to ingest disposals")
	}
	log.Info().Int("accepted", disposalResult.Accepted).Msg("Disposals ingested")

	// Period-end prices for holding valuation
	prices := make([]ledger.PriceInput, 0, len(securities))
	for _, security := range securities {
		prices = append(prices, ledger.PriceInput{
			SecurityKey: security,
			PriceDate:   time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC),
			Price:       decimal.NewFromInt(int64(rand.Intn(1500) + 200)),
		})
	}
	var priceResult ledger.IngestResult
	if err := simClient.post("prices", "/api/v1/ingest/prices", prices, &priceResult); err != nil {
		log.Fatal().Err(err).Msg("Failed to ingest prices")
	}

	// Run the gains engine for the period
	var gainsRun gains.RunResponse
	if err := simClient.post("gains", "/api/v1/internal/gains/run", gains.RunRequest{
		Period:     period,
		AssetClass: types.AssetClassEquity,
	}, &gainsRun); err != nil {
		log.Fatal().Err(err).Msg("Failed to run gains")
	}
	log.Info().
		Str("run_id", gainsRun.RunID).
		Int("matched", gainsRun.DisposalsMatched).
		Int("unmatched", gainsRun.DisposalsInsufficient).
		Msg("Gains run completed")

	// Ingest a depository golden statement that disagrees slightly with the
	// system, then reconcile holdings against it
	goldenHoldings := make([]reconciliation.GoldenHoldingInput, 0, len(securities))
	for _, security := range securities {
		goldenHoldings = append(goldenHoldings, reconciliation.GoldenHoldingInput{
			ISIN:       security,
			AssetClass: types.AssetClassEquity,
			Units:      decimal.NewFromInt(int64(rand.Intn(300) + 1)),
			Currency:   "INR",
		})
	}
	var golden reconciliation.GoldenReference
	if err := simClient.post("golden", "/api/v1/ingest/golden", reconciliation.GoldenStatementInput{
		SourceType:    types.SourceNSDLCAS,
		StatementDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Period:        period,
		Holdings:      goldenHoldings,
	}, &golden); err != nil {
		log.Fatal().Err(err).Msg("Failed to ingest golden statement")
	}

	var reconRun reconciliation.RunResponse
	if err := simClient.post("reconcile", "/api/v1/internal/reconciliation/run", reconciliation.ReconcileRequest{
		MetricType: types.MetricHoldingUnits,
		AssetClass: types.AssetClassEquity,
		Period:     period,
	}, &reconRun); err != nil {
		log.Fatal().Err(err).Msg("Failed to run reconciliation")
	}

	// Pull the reports back out
	var gainRecords []types.MatchRecord
	if err := simClient.get("report", "/api/v1/reports/gains?period="+period, &gainRecords); err != nil {
		log.Error().Err(err).Msg("Failed to fetch gains report")
	}

	var summaries []reconciliation.SummaryResponse
	if err := simClient.get("summary",
		"/api/v1/reports/reconciliation?asset_class="+types.AssetClassEquity+"&period="+period, &summaries); err != nil {
		log.Error().Err(err).Msg("Failed to fetch reconciliation summary")
	}

	// Print summary
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("TAX LEDGER SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Pipeline Statistics
-------------------
Lots Ingested:      %d
Disposals Ingested: %d
Match Records:      %d
Gains Matched:      %d
Gains Unmatched:    %d
Recon Events:       %d
Recon Mismatches:   %d
Suspense Opened:    %d
`, totalLots, disposalResult.Accepted, len(gainRecords),
		gainsRun.DisposalsMatched, gainsRun.DisposalsInsufficient,
		reconRun.ExactCount+reconRun.WithinToleranceCount+reconRun.MismatchCount+
			reconRun.MissingInSystemCount+reconRun.MissingInGoldenCount,
		reconRun.MismatchCount, reconRun.SuspenseOpened)

	fmt.Println("\nReconciliation Summary")
	fmt.Println(strings.Repeat("-", 40))
	for _, summary := range summaries {
		barLength := int(summary.MatchRate * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-15s: %s (%.1f%% matched, %d mismatches)\n",
			summary.MetricType, bar, summary.MatchRate*100, summary.MismatchCount)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("lots", totalLots).
		Int("disposals", disposalResult.Accepted).
		Int("match_records", len(gainRecords)).
		Int("mismatches", reconRun.MismatchCount).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startServer initializes and starts the tax ledger API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService("taxledger-secret-key")
	rulesService := rules.NewService(db)
	if err := rulesService.SeedDefaults(); err != nil {
		return fmt.Errorf("failed to seed rules: %w", err)
	}
	truthService := truth.NewService(db)
	if err := truthService.SeedDefaults(); err != nil {
		return fmt.Errorf("failed to seed truth priorities: %w", err)
	}
	ledgerService := ledger.NewService(db)
	gainsService := gains.NewService(db, rulesService)
	suspenseService := suspense.NewService(db)
	reconciliationService := reconciliation.NewService(db, truthService, rulesService, suspenseService)

	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)
	gainsHandlers := gains.NewGinHandlers(gainsService)
	suspenseHandlers := suspense.NewGinHandlers(suspenseService)
	reconciliationHandlers := reconciliation.NewGinHandlers(reconciliationService)
	truthHandlers := truth.NewGinHandlers(truthService)

	// Setup routes
	setupRoutes(router, authHandlers, ledgerHandlers, gainsHandlers,
		reconciliationHandlers, truthHandlers, suspenseHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	gainsHandlers *gains.GinHandlers,
	reconciliationHandlers *reconciliation.GinHandlers,
	truthHandlers *truth.GinHandlers,
	suspenseHandlers *suspense.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Ingestion routes
		ingest := v1.Group("/ingest")
		ingest.Use(middleware.JWTAuth())
		{
			ingest.POST("/lots", ledgerHandlers.IngestLotsHandler())
			ingest.POST("/disposals", ledgerHandlers.IngestDisposalsHandler())
			ingest.POST("/prices", ledgerHandlers.IngestPricesHandler())
			ingest.POST("/golden", reconciliationHandlers.IngestGoldenHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/gains/run", gainsHandlers.RunGainsHandler())
			internal.POST("/reconciliation/run", reconciliationHandlers.ReconcileHandler())
		}

		// Report routes
		reports := v1.Group("/reports")
		reports.Use(middleware.JWTAuth())
		{
			reports.GET("/gains", gainsHandlers.GetGainsHandler())
			reports.GET("/gains/runs/:run_id", gainsHandlers.GetRunHandler())
			reports.GET("/reconciliation", reconciliationHandlers.SummaryHandler())
		}

		// Truth and suspense routes
		truthGroup := v1.Group("/truth")
		truthGroup.Use(middleware.JWTAuth())
		{
			truthGroup.GET("/resolve", truthHandlers.ResolveHandler())
			truthGroup.PUT("/override", truthHandlers.SetOverrideHandler())
		}

		suspenseGroup := v1.Group("/suspense")
		suspenseGroup.Use(middleware.JWTAuth())
		{
			suspenseGroup.GET("/open", suspenseHandlers.ListOpenHandler())
			suspenseGroup.POST("/:item_id/resolve", suspenseHandlers.ResolveHandler())
			suspenseGroup.POST("/:item_id/write-off", suspenseHandlers.WriteOffHandler())
		}
	}
}
