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
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/papertrade/papertrade-api/internal/auth"
	"github.com/papertrade/papertrade-api/internal/types"
)

const (
	minOrders     = 15
	maxOrders     = 150
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

// symbols per market, matching the demo price table.
var symbolsByMarket = map[string][]string{
	types.MarketUS: {"AAPL", "TSLA", "MSFT"},
	types.MarketHK: {"0700", "9988"},
	types.MarketCN: {"600519"},
}

var markets = []string{types.MarketUS, types.MarketHK, types.MarketCN}
var sides = []string{types.SideBuy, types.SideSell}

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

// simulationClient handles HTTP communication with the trading API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	mu        sync.Mutex
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"place":    {name: "Place Order"},
			"cancel":   {name: "Cancel Order"},
			"snapshot": {name: "Portfolio Snapshot"},
		},
	}

	if err := sc.authenticate(); err != nil {
		return nil, err
	}
	return sc, nil
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rs := sc.stats[route]
	rs.addDuration(time.Since(start))
	if failed {
		rs.failures++
	}
}

func (sc *simulationClient) do(route, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	start := time.Now()
	resp, err := sc.client.Do(req)
	if err != nil {
		sc.record(route, start, true)
		return err
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		sc.record(route, start, true)
		return err
	}
	if !envelope.Success {
		sc.record(route, start, true)
		if envelope.Error != nil {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	sc.record(route, start, false)

	if out != nil {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

// authenticate obtains a JWT for the simulation user
func (sc *simulationClient) authenticate() error {
	var token auth.TokenResponse
	err := sc.do("auth", http.MethodPost, "/api/v1/auth/token", auth.Credentials{
		APIKey:    auth.TestAPIKey,
		APISecret: auth.TestAPISecret,
		Username:  "simulation",
	}, &token)
	if err != nil {
		return err
	}
	sc.authToken = token.Token
	return nil
}

// randomOrder builds a plausible order request. Quantities respect each
// market's lot size so only a fraction of requests are rejected.
func randomOrder() types.PlaceOrderRequest {
	marketCode := markets[rand.Intn(len(markets))]
	symbols := symbolsByMarket[marketCode]

	lot := int64(1)
	if marketCode != types.MarketUS {
		lot = 100
	}

	req := types.PlaceOrderRequest{
		Symbol:    symbols[rand.Intn(len(symbols))],
		Market:    marketCode,
		Side:      sides[rand.Intn(len(sides))],
		OrderType: types.OrderTypeMarket,
		Quantity:  lot * int64(1+rand.Intn(5)),
	}

	// Half the orders go out as limits priced around a broad band; the
	// unmarketable ones exercise the pending queue and cancellation.
	if rand.Intn(2) == 0 {
		req.OrderType = types.OrderTypeLimit
		price := decimal.NewFromFloat(50 + rand.Float64()*500).Round(2)
		req.Price = &price
	}
	return req
}

// placeOrder submits one order and returns it
func (sc *simulationClient) placeOrder(req types.PlaceOrderRequest) (*types.Order, error) {
	var order types.Order
	if err := sc.do("place", http.MethodPost, "/api/v1/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// cancelOrder cancels one order by ID
func (sc *simulationClient) cancelOrder(orderID string) error {
	return sc.do("cancel", http.MethodDelete, "/api/v1/orders/"+orderID, nil, nil)
}

// getSnapshot fetches the full portfolio snapshot
func (sc *simulationClient) getSnapshot() (*types.Snapshot, error) {
	var snap types.Snapshot
	if err := sc.do("snapshot", http.MethodGet, "/api/v1/portfolio/snapshot", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// printStats renders the latency report for every route
func (sc *simulationClient) printStats() {
	fmt.Println("\n=== Simulation Results ===")
	for _, rs := range sc.stats {
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("\n%s (%d calls, %d failures)\n", rs.name, rs.totalCalls, rs.failures)
		fmt.Printf("  min=%v max=%v mean=%v median=%v p95=%v p99=%v\n",
			min, max, mean, median, p95, p99)
	}
}

func main() {
	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize simulation client")
	}

	orderCount := minOrders + rand.Intn(maxOrders-minOrders+1)
	log.Info().Int("orders", orderCount).Int("workers", numWorkers).Msg("starting simulation")

	jobs := make(chan int)
	var pendingMu sync.Mutex
	var pending []string

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				order, err := sc.placeOrder(randomOrder())
				if err != nil {
					log.Warn().Err(err).Msg("order rejected")
					continue
				}
				log.Info().
					Str("order_id", order.OrderID).
					Str("status", order.Status).
					Str("symbol", order.Symbol).
					Str("side", order.Side).
					Msg("order placed")

				if order.Status == types.StatusPending {
					pendingMu.Lock()
					pending = append(pending, order.OrderID)
					pendingMu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < orderCount; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// Cancel roughly half of whatever is still pending.
	pendingMu.Lock()
	toCancel := append([]string(nil), pending...)
	pendingMu.Unlock()
	rand.Shuffle(len(toCancel), func(i, j int) { toCancel[i], toCancel[j] = toCancel[j], toCancel[i] })
	for _, orderID := range toCancel[:len(toCancel)/2] {
		if err := sc.cancelOrder(orderID); err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("cancel rejected")
			continue
		}
		log.Info().Str("order_id", orderID).Msg("order cancelled")
	}

	snap, err := sc.getSnapshot()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to fetch final snapshot")
	}
	log.Info().
		Int("positions", len(snap.Positions)).
		Int("orders", len(snap.Orders)).
		Int("trades", len(snap.Trades)).
		Str("total_assets_usd", snap.Overview.TotalAssetsUSD.StringFixed(2)).
		Msg("final portfolio")

	sc.printStats()
}
