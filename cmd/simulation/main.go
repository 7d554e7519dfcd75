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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/brokerage-api/internal/auth"
	"github.com/ksred/brokerage-api/internal/balance"
	"github.com/ksred/brokerage-api/internal/commission"
	"github.com/ksred/brokerage-api/internal/config"
	"github.com/ksred/brokerage-api/internal/database"
	"github.com/ksred/brokerage-api/internal/gateway"
	"github.com/ksred/brokerage-api/internal/ib"
	"github.com/ksred/brokerage-api/internal/identity"
	"github.com/ksred/brokerage-api/internal/notify"
	"github.com/ksred/brokerage-api/internal/orders"
	"github.com/ksred/brokerage-api/internal/payments"
	"github.com/ksred/brokerage-api/internal/rates"
	"github.com/ksred/brokerage-api/internal/withdrawals"
	"github.com/ksred/brokerage-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minClients    = 5
	maxClients    = 25
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	vendorAddress = "http://localhost:9090"

	simLegacyKey  = "0123456789abcdef0123456789abcdef"
	simLegacyIV   = "abcdef0123456789"
	simCryptoKey  = "fedcba9876543210fedcba9876543210"
	simRateINRUSD = 0.0117
)

var depositChannels = []string{"hosted", "legacy", "crypto"}

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
	mu         sync.Mutex
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
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

// simulationClient handles HTTP communication with the brokerage API
type simulationClient struct {
	baseURL     string
	authToken   string
	client      *http.Client
	legacyCodec *gateway.CBCCodec
	cryptoCodec *gateway.GCMCodec
	stats       map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	legacyCodec, err := gateway.NewCBCCodec(simLegacyKey, simLegacyIV)
	if err != nil {
		return nil, err
	}
	cryptoCodec, err := gateway.NewGCMCodec(simCryptoKey)
	if err != nil {
		return nil, err
	}

	sc := &simulationClient{
		baseURL:     serverAddress,
		client:      client,
		legacyCodec: legacyCodec,
		cryptoCodec: cryptoCodec,
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"user":     {name: "Create User"},
			"account":  {name: "Provision Account"},
			"deposit":  {name: "Initiate Deposit"},
			"callback": {name: "Gateway Callback"},
			"withdraw": {name: "Request Withdrawal"},
			"resolve":  {name: "Resolve Withdrawal"},
		},
	}

	// Get auth token (admin credentials so the same client can drive the
	// review endpoints)
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
		"api_key":    auth.TestAdminKey,
		"api_secret": auth.TestAdminSecret,
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

// post sends an authenticated JSON request and decodes the standard response
// envelope's data into out.
func (sc *simulationClient) post(statKey, path string, payload interface{}, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", sc.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].addFailure()
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[statKey].addFailure()
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

// onboardClient creates a user and provisions a trading account, returning
// the assigned account number.
func (sc *simulationClient) onboardClient(workerID, seq int) (string, error) {
	email := fmt.Sprintf("client%d.%d.%s@example.com", workerID, seq, uuid.New().String()[:8])
	user := map[string]string{
		"full_name": fmt.Sprintf("Client %d-%d", workerID, seq),
		"email":     email,
		"phone":     fmt.Sprintf("98%08d", rand.Intn(100000000)),
	}
	if err := sc.post("user", "/api/v1/users", user, nil); err != nil {
		return "", err
	}

	var account struct {
		AccountNo string `json:"account_no"`
	}
	provision := map[string]string{
		"email":    email,
		"curr":     "USD",
		"actype":   "LIVE",
		"Utype":    "CLIENT",
		"Password": "Sim" + uuid.New().String()[:10],
	}
	if err := sc.post("account", "/api/v1/accounts", provision, &account); err != nil {
		return "", err
	}
	if account.AccountNo == "" {
		return "", fmt.Errorf("no account number in provision response")
	}
	return account.AccountNo, nil
}

// initiateDeposit starts a deposit over the given channel and returns the
// order id plus the vendor transaction id (hosted channel only).
func (sc *simulationClient) initiateDeposit(channel, accountNo string, amount float64) (orderID, vendorTxn string, err error) {
	paths := map[string]string{
		"hosted": "/api/v1/payments/deposit",
		"legacy": "/api/v1/payments/deposit/order",
		"crypto": "/api/v1/payments/deposit/crypto",
	}

	var result struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
		VendorTxn string `json:"vendor_transaction_id"`
	}
	err = sc.post("deposit", paths[channel], map[string]interface{}{
		"account_no": accountNo,
		"amount":     amount,
	}, &result)
	if err != nil {
		return "", "", err
	}
	if result.Order.OrderID == "" {
		return "", "", fmt.Errorf("no order id in deposit response")
	}
	return result.Order.OrderID, result.VendorTxn, nil
}

// settleDeposit replays the gateway's settlement callback for the deposit.
// Every callback is sent twice to exercise the duplicate handling the real
// vendors are notorious for.
func (sc *simulationClient) settleDeposit(channel, orderID, vendorTxn, accountNo string, amount float64) error {
	var path string
	var payload interface{}

	switch channel {
	case "hosted":
		path = "/api/v1/payments/callbacks/transaction"
		payload = map[string]interface{}{
			"transaction": map[string]string{
				"id":               vendorTxn,
				"merchant_txn_id":  orderID,
				"merchant_user_id": accountNo,
				"status":           "completed",
				"amount":           fmt.Sprintf("%.2f", amount),
			},
		}
	case "legacy", "crypto":
		inner := map[string]string{
			"transactionid": "VTX" + uuid.New().String()[:12],
			"merchantid":    orderID,
			"status":        "SUCCESS",
			"realAmount":    fmt.Sprintf("%.2f", amount),
		}
		var wire string
		var err error
		if channel == "legacy" {
			path = "/api/v1/payments/callbacks/order"
			wire, err = sc.legacyCodec.Encrypt(inner)
		} else {
			path = "/api/v1/payments/callbacks/crypto"
			wire, err = sc.cryptoCodec.Encrypt(inner)
		}
		if err != nil {
			return err
		}
		payload = map[string]string{"data": wire}
	}

	if err := sc.post("callback", path, payload, nil); err != nil {
		return err
	}
	// Duplicate delivery must be acknowledged without a second credit
	return sc.post("callback", path, payload, nil)
}

// requestWithdrawal submits a bank withdrawal and returns its id.
func (sc *simulationClient) requestWithdrawal(accountNo string, amount float64) (string, error) {
	var result struct {
		WithdrawalID string `json:"withdrawal_id"`
	}
	err := sc.post("withdraw", "/api/v1/withdrawals", map[string]interface{}{
		"account_no":   accountNo,
		"bank_account": fmt.Sprintf("%012d", rand.Int63n(1e12)),
		"ifsc":         "SIMB0001234",
		"beneficiary":  "Simulation Client",
		"mobile":       fmt.Sprintf("98%08d", rand.Intn(100000000)),
		"amount_inr":   amount,
	}, &result)
	if err != nil {
		return "", err
	}
	if result.WithdrawalID == "" {
		return "", fmt.Errorf("no withdrawal id in response")
	}
	return result.WithdrawalID, nil
}

// resolveWithdrawal approves or rejects a pending withdrawal as admin.
func (sc *simulationClient) resolveWithdrawal(withdrawalID string, approve bool) error {
	action := "approve"
	payload := interface{}(nil)
	if !approve {
		action = "reject"
		payload = map[string]string{"reason": "simulated compliance rejection"}
	}
	path := fmt.Sprintf("/api/v1/admin/withdrawals/%s/%s", withdrawalID, action)
	return sc.post("resolve", path, payload, nil)
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

// main runs the brokerage simulation
// It starts stub vendor services and a local API server, then simulates
// multiple concurrent clients depositing and withdrawing funds
func main() {
	// Stub vendors must be up before the API server dials them
	go func() {
		if err := startVendorStub(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start vendor stub")
		}
	}()

	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for servers to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetClients := rand.Intn(maxClients-minClients) + minClients
	log.Info().Int("target_clients", targetClients).Msg("Starting simulation")

	stats := struct {
		mu                   sync.Mutex
		Clients              int
		Deposits             int
		DepositsCredited     int
		Withdrawals          int
		WithdrawalsCompleted int
		WithdrawalsRejected  int
		Failures             int
		TotalDepositedINR    float64
		StartTime            time.Time
		Channels             map[string]int
	}{
		StartTime: time.Now(),
		Channels:  make(map[string]int),
	}

	var wg sync.WaitGroup
	clientsPerWorker := targetClients/numWorkers + 1
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < clientsPerWorker; j++ {
				accountNo, err := simClient.onboardClient(workerID, j)
				if err != nil {
					log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to onboard client")
					stats.mu.Lock()
					stats.Failures++
					stats.mu.Unlock()
					continue
				}
				stats.mu.Lock()
				stats.Clients++
				stats.mu.Unlock()
				log.Info().Str("account_no", accountNo).Msg("Client onboarded")

				channel := depositChannels[rand.Intn(len(depositChannels))]
				amountINR := float64(rand.Intn(49000) + 1000)

				orderID, vendorTxn, err := simClient.initiateDeposit(channel, accountNo, amountINR)
				if err != nil {
					log.Error().Err(err).Str("channel", channel).Msg("Failed to initiate deposit")
					stats.mu.Lock()
					stats.Failures++
					stats.mu.Unlock()
					continue
				}
				stats.mu.Lock()
				stats.Deposits++
				stats.Channels[channel]++
				stats.TotalDepositedINR += amountINR
				stats.mu.Unlock()

				if err := simClient.settleDeposit(channel, orderID, vendorTxn, accountNo, amountINR); err != nil {
					log.Error().Err(err).Str("order_id", orderID).Msg("Failed to settle deposit")
					stats.mu.Lock()
					stats.Failures++
					stats.mu.Unlock()
					continue
				}
				stats.mu.Lock()
				stats.DepositsCredited++
				stats.mu.Unlock()
				log.Info().
					Str("order_id", orderID).
					Str("channel", channel).
					Float64("amount_inr", amountINR).
					Msg("Deposit settled")

				// Withdraw a slice of what was deposited
				withdrawINR := amountINR * 0.4
				withdrawalID, err := simClient.requestWithdrawal(accountNo, withdrawINR)
				if err != nil {
					log.Error().Err(err).Str("account_no", accountNo).Msg("Failed to request withdrawal")
					stats.mu.Lock()
					stats.Failures++
					stats.mu.Unlock()
					continue
				}
				stats.mu.Lock()
				stats.Withdrawals++
				stats.mu.Unlock()

				approve := rand.Intn(10) > 1
				if err := simClient.resolveWithdrawal(withdrawalID, approve); err != nil {
					log.Error().Err(err).Str("withdrawal_id", withdrawalID).Msg("Failed to resolve withdrawal")
					stats.mu.Lock()
					stats.Failures++
					stats.mu.Unlock()
					continue
				}
				stats.mu.Lock()
				if approve {
					stats.WithdrawalsCompleted++
				} else {
					stats.WithdrawalsRejected++
				}
				stats.mu.Unlock()
				log.Info().
					Str("withdrawal_id", withdrawalID).
					Bool("approved", approve).
					Float64("amount_inr", withdrawINR).
					Msg("Withdrawal resolved")

				time.Sleep(time.Duration(rand.Intn(300)) * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BROKERAGE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Flow Statistics
---------------
Clients Onboarded:      %d
Deposits Initiated:     %d
Deposits Credited:      %d
Withdrawals Requested:  %d
Withdrawals Completed:  %d
Withdrawals Rejected:   %d
Failures:               %d
Total Deposited (INR):  %.2f
Duration:               %v

Deposit Channel Distribution
---------------------------
`, stats.Clients, stats.Deposits, stats.DepositsCredited,
		stats.Withdrawals, stats.WithdrawalsCompleted, stats.WithdrawalsRejected,
		stats.Failures, stats.TotalDepositedINR, duration.Round(time.Millisecond))

	maxChannelCount := 0
	for _, count := range stats.Channels {
		if count > maxChannelCount {
			maxChannelCount = count
		}
	}
	for channel, count := range stats.Channels {
		barLength := 0
		if maxChannelCount > 0 {
			barLength = int(float64(count) / float64(maxChannelCount) * 20)
		}
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-7s: %s (%d)\n", channel, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("clients", stats.Clients).
		Int("deposits_credited", stats.DepositsCredited).
		Int("withdrawals_completed", stats.WithdrawalsCompleted).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startServer initializes and starts the brokerage API server wired against
// the stub vendors
func startServer() error {
	os.Setenv("DATABASE_PATH", "simulation.db")
	os.Setenv("BALANCE_PROVIDER_URL", vendorAddress+"/provider")
	os.Setenv("LEGACY_GATEWAY_URL", vendorAddress)
	os.Setenv("CRYPTO_GATEWAY_URL", vendorAddress)
	os.Setenv("RATE_API_URL", vendorAddress+"/latest")
	os.Setenv("LEGACY_GATEWAY_USERNAME", "sim-merchant")
	os.Setenv("LEGACY_GATEWAY_PASSWORD", "sim-password")
	os.Setenv("LEGACY_AGENT_CODE", "SIMAGENT")
	os.Setenv("LEGACY_SECRET_KEY", simLegacyKey)
	os.Setenv("LEGACY_SECRET_IV", simLegacyIV)
	os.Setenv("CRYPTO_AGENT_CODE", "SIMAGENT")
	os.Setenv("CRYPTO_SECRET_KEY", simCryptoKey)

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	legacyCodec, err := gateway.NewCBCCodec(cfg.LegacySecretKey, cfg.LegacySecretIV)
	if err != nil {
		return err
	}
	cryptoCodec, err := gateway.NewGCMCodec(cfg.CryptoSecretKey)
	if err != nil {
		return err
	}

	legacyGateway := gateway.NewLegacyClient(gateway.LegacyConfig{
		BaseURL:   cfg.LegacyGatewayURL,
		Username:  cfg.LegacyGatewayUsername,
		Password:  cfg.LegacyGatewayPassword,
		AgentCode: cfg.LegacyAgentCode,
		GatewayID: cfg.LegacyGatewayID,
		Timeout:   cfg.GatewayTimeout,
	}, legacyCodec)
	cryptoGateway := gateway.NewCryptoClient(gateway.CryptoConfig{
		BaseURL:   cfg.CryptoGatewayURL,
		AgentCode: cfg.CryptoAgentCode,
		Timeout:   cfg.GatewayTimeout,
	}, cryptoCodec)
	ledger := balance.NewClient(cfg.BalanceProviderURL, cfg.BalanceProviderTimeout)
	fx := rates.NewConverter(cfg.RateAPIURL, cfg.RateCacheTTL)
	notifier := notify.NewLogSender()

	middleware.SetJWTSecret(cfg.JWTSecret)
	authService := auth.NewService(cfg.JWTSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	authService.RegisterAPICredentials(auth.TestAdminKey, auth.TestAdminSecret, "trade", "admin")

	identityService := identity.NewService(db, ledger, notifier)
	orderService := orders.NewService(db, identityService.DB(), legacyGateway, cryptoGateway)
	ibService := ib.NewService(db, identityService.DB(), notifier, cfg.AdminEmail)
	commissionService := commission.NewService(identityService.DB(), ibService, ledger, ledger)
	withdrawalService := withdrawals.NewService(db, identityService.DB(), ledger, legacyGateway, fx, notifier, cfg.AdminEmail)
	paymentService := payments.NewService(db, orderService, identityService.DB(), ledger, fx, legacyCodec, cryptoCodec, notifier, cfg.AdminEmail)

	router := gin.Default()
	setupRoutes(router,
		auth.NewGinHandlers(authService),
		identity.NewGinHandlers(identityService),
		orders.NewGinHandlers(orderService),
		payments.NewGinHandlers(paymentService),
		withdrawals.NewGinHandlers(withdrawalService),
		ib.NewGinHandlers(ibService, commissionService),
	)

	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	identityHandlers *identity.GinHandlers,
	orderHandlers *orders.GinHandlers,
	paymentHandlers *payments.GinHandlers,
	withdrawalHandlers *withdrawals.GinHandlers,
	ibHandlers *ib.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		callbacks := v1.Group("/payments/callbacks")
		{
			callbacks.POST("/transaction", paymentHandlers.HostedCallbackHandler())
			callbacks.POST("/order", paymentHandlers.LegacyCallbackHandler())
			callbacks.POST("/crypto", paymentHandlers.CryptoCallbackHandler())
		}

		client := v1.Group("")
		client.Use(middleware.JWTAuth())
		{
			client.POST("/users", identityHandlers.CreateUserHandler())
			client.POST("/accounts", identityHandlers.ProvisionAccountHandler())
			client.POST("/payments/deposit", orderHandlers.HostedDepositHandler())
			client.POST("/payments/deposit/order", orderHandlers.LegacyDepositHandler())
			client.POST("/payments/deposit/crypto", orderHandlers.CryptoDepositHandler())
			client.POST("/withdrawals", withdrawalHandlers.SubmitHandler())
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth())
		{
			admin.POST("/withdrawals/:withdrawal_id/approve", withdrawalHandlers.ApproveHandler())
			admin.POST("/withdrawals/:withdrawal_id/reject", withdrawalHandlers.RejectHandler())
		}
	}
}

// vendorStub fakes the balance provider, both payment gateways and the rate
// API so the simulation exercises the full wire formats end to end.
type vendorStub struct {
	mu          sync.Mutex
	balances    map[string]float64
	seenOrders  map[string]bool
	nextAccount int
	legacyCodec *gateway.CBCCodec
	cryptoCodec *gateway.GCMCodec
}

func startVendorStub() error {
	legacyCodec, err := gateway.NewCBCCodec(simLegacyKey, simLegacyIV)
	if err != nil {
		return err
	}
	cryptoCodec, err := gateway.NewGCMCodec(simCryptoKey)
	if err != nil {
		return err
	}

	stub := &vendorStub{
		balances:    make(map[string]float64),
		seenOrders:  make(map[string]bool),
		nextAccount: 50000001,
		legacyCodec: legacyCodec,
		cryptoCodec: cryptoCodec,
	}

	router := gin.New()
	router.POST("/provider", stub.providerHandler)
	router.POST("/login", stub.loginHandler)
	router.POST("/payin/generate", stub.payinHandler)
	router.POST("/order/generate", stub.legacyOrderHandler)
	router.POST("/withdrawal/account", stub.payoutHandler)
	router.POST("/v1/order", stub.cryptoOrderHandler)
	router.GET("/latest", stub.ratesHandler)

	return router.Run(":9090")
}

// providerHandler fakes the trading ledger's single dispatch endpoint.
func (v *vendorStub) providerHandler(c *gin.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch c.Query("type") {
	case "SNDPReguser":
		accountNo := strconv.Itoa(v.nextAccount)
		v.nextAccount++
		v.balances[accountNo] = 0
		c.JSON(http.StatusOK, gin.H{"response": "success", "accountno": accountNo})

	case "SNDPCheckBalance":
		var req struct {
			AccountNo string `json:"accountno"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, gin.H{"response": "failed", "message": "bad request"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"response": "success",
			"Balance":  fmt.Sprintf("%.2f", v.balances[req.AccountNo]),
			"Margin":   "0.00",
		})

	case "SNDPAddBalance":
		var req struct {
			AccountNo string  `json:"accountno"`
			Amount    float64 `json:"amount"`
			OrderID   string  `json:"orderid"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || len(req.OrderID) > 16 {
			c.JSON(http.StatusOK, gin.H{"response": "failed", "message": "invalid order"})
			return
		}
		// Same order id twice is a no-op, matching the real ledger
		if !v.seenOrders[req.OrderID] {
			v.seenOrders[req.OrderID] = true
			v.balances[req.AccountNo] += req.Amount
		}
		c.JSON(http.StatusOK, gin.H{"response": "success"})

	case "SNDPDeal":
		c.JSON(http.StatusOK, gin.H{
			"response": "success",
			"data": []gin.H{
				{"Symbol": "XAUUSD", "Qty": "1.50"},
				{"Symbol": "EURUSD", "Qty": "3.00"},
			},
		})

	default:
		c.JSON(http.StatusOK, gin.H{"response": "failed", "message": "unknown type"})
	}
}

func (v *vendorStub) loginHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{"token": "sim-gateway-token", "expires_in": 3600},
	})
}

func (v *vendorStub) payinHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "payment link generated",
		"data": gin.H{
			"url":            "https://pay.simulated.local/" + uuid.New().String(),
			"transaction_id": "TXN" + strings.ToUpper(uuid.New().String()[:12]),
		},
	})
}

func (v *vendorStub) legacyOrderHandler(c *gin.Context) {
	wire, err := v.legacyCodec.Encrypt(map[string]string{"status": "created"})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wire})
}

func (v *vendorStub) payoutHandler(c *gin.Context) {
	wire, err := v.legacyCodec.Encrypt(map[string]interface{}{
		"success": true,
		"message": "payout queued",
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wire})
}

func (v *vendorStub) cryptoOrderHandler(c *gin.Context) {
	wire, err := v.cryptoCodec.Encrypt(map[string]string{"status": "created"})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wire})
}

func (v *vendorStub) ratesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rates": gin.H{"USD": simRateINRUSD}})
}
