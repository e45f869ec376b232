// main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"regbackend/internal/cleanup"
	"regbackend/internal/config"
	"regbackend/internal/data"
	"regbackend/internal/email"
	"regbackend/internal/inventory"
	"regbackend/internal/logger"
	"regbackend/internal/middleware"
	"regbackend/internal/money"
	"regbackend/internal/order"
	"regbackend/internal/payment"
	"regbackend/internal/revenue"
	"regbackend/internal/teams"
)

type App struct {
	addr          string
	mux           *http.ServeMux
	connections   sync.WaitGroup
	totalRequests int64
}

func main() {
	// Step 1: Setup configuration first
	config.LoadEnv()
	config.ConfigurePaths()

	// Step 2: Setup logging
	loggerConfig := config.LoggerConfig()
	if err := logger.SetupLogger(loggerConfig); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Only NOW is logging safe to use!
	logger.LogInfo("Environment and paths loaded. Logger ready.")
	config.LogCurrentEnvironment()

	// Step 3: Load processor, fee, reservation and CORS configuration
	if err := config.LoadProcessorConfig(); err != nil {
		logger.LogFatal("Failed to load payment processor config: %v", err)
	}
	config.LoadFeeConfig()
	config.LoadReservationConfig()
	config.LoadCORSConfig()
	money.Configure(config.FeeRate(), config.FixedFee())

	// Step 4: Open the database and ensure the schema exists
	if err := data.InitDB(config.DatabasePath()); err != nil {
		logger.LogFatal("Failed to initialize database: %v", err)
	}
	defer data.CloseDB()
	if err := data.CreateTables(); err != nil {
		logger.LogFatal("Failed to create tables: %v", err)
	}

	// Step 5: Wire services
	allocator := inventory.NewAllocator(config.ReservationTTL())
	notifier := email.NewSender(email.LoadConfig())
	svc := order.NewService(allocator, notifier)

	var processor payment.Processor
	if config.UseMockProcessor {
		logger.LogWarn("Using mock payment processor - no real charges will be made")
		processor = payment.NewMockProcessor()
	} else {
		processor = payment.NewClient()
	}

	order.SetService(svc)
	payment.SetService(svc)
	payment.SetProcessor(processor)
	teams.SetSynchronizer(teams.NewSynchronizer())
	revenue.SetAttributor(revenue.NewAttributor())

	// Step 6: Start background sweep
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	cleanup.NewSweeper(allocator).StartCleanupRoutine(sweepCtx)

	// Step 7: Run server
	app := &App{
		addr: serverAddress(),
		mux:  routes(),
	}
	app.Run()
}

// serverAddress builds the server address from environment variables
func serverAddress() string {
	host := os.Getenv("SERVER_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "5051"
	}
	return host + ":" + port
}

// routes sets up all API routes
func routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := data.GetDB(); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/orders/create", middleware.APIMiddleware(order.HandleCreateOrder))
	apiMux.HandleFunc("/orders/get", middleware.APIMiddleware(order.HandleGetOrder))
	apiMux.HandleFunc("/orders/cancel", middleware.APIMiddleware(order.HandleCancelOrder))
	apiMux.HandleFunc("/orders/complete", middleware.APIMiddleware(order.HandleCompleteOrder))
	apiMux.HandleFunc("/orders/refund", middleware.APIMiddleware(order.HandleRefundOrder))
	apiMux.HandleFunc("/orders/payment", middleware.APIMiddleware(payment.HandleCreateCharge))
	apiMux.HandleFunc("/payments/webhook", middleware.APIMiddleware(payment.HandleWebhook))
	apiMux.HandleFunc("/sponsorships/edit", middleware.APIMiddleware(order.HandleEditSponsorship))
	apiMux.HandleFunc("/sponsorships/delete", middleware.APIMiddleware(order.HandleDeleteSponsorship))
	apiMux.HandleFunc("/teams/sync", middleware.APIMiddleware(teams.HandleSync))
	apiMux.HandleFunc("/teams/cancel", middleware.APIMiddleware(teams.HandleCancelTeam))
	apiMux.HandleFunc("/teams/rename", middleware.APIMiddleware(teams.HandleRenameTeam))
	apiMux.HandleFunc("/revenue", middleware.APIMiddleware(revenue.HandleRevenue))
	apiMux.HandleFunc("/quota", middleware.APIMiddleware(order.HandleGetQuota))

	mux.Handle("/api/", http.StripPrefix("/api", apiMux))

	return mux
}

// Run starts the HTTP server
func (a *App) Run() {
	server := &http.Server{
		Addr:         a.addr,
		Handler:      a.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to listen for shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in a separate goroutine
	go func() {
		logger.LogInfo("Starting server on %s", a.addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogFatal("Server failed: %v", err)
		}
	}()

	// Wait for a shutdown signal
	<-stop
	logger.LogInfo("Shutdown signal received")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown the server gracefully
	if err := server.Shutdown(ctx); err != nil {
		logger.LogError("Server shutdown error: %v", err)
	}

	// Wait for active connections to finish
	logger.LogInfo("Waiting for active connections to finish...")
	a.connections.Wait()
	logger.LogInfo("All connections closed. Total requests handled: %d", atomic.LoadInt64(&a.totalRequests))
	logger.LogInfo("Server shut down gracefully")
}

// Handler assembles all middleware around the main mux
func (a *App) Handler() http.Handler {
	var handler http.Handler = a.mux

	handler = a.trackConnections(handler)
	handler = withTimeout(handler, 15*time.Second)

	return handler
}

// Middleware: timeout handler
func withTimeout(h http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(h, timeout, "Request timed out")
}

// Middleware: track active connections and total requests
func (a *App) trackConnections(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.connections.Add(1)
		atomic.AddInt64(&a.totalRequests, 1)
		defer a.connections.Done()

		h.ServeHTTP(w, r)
	})
}
