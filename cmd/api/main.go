package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"merchant-checkout-api/internal/cache"
	"merchant-checkout-api/internal/checkout"
	"merchant-checkout-api/internal/config"
	"merchant-checkout-api/internal/database"
	"merchant-checkout-api/internal/events"
	"merchant-checkout-api/internal/features"
	"merchant-checkout-api/internal/handler"
	"merchant-checkout-api/internal/loyalty"
	"merchant-checkout-api/internal/middleware"
	"merchant-checkout-api/internal/payment"
	"merchant-checkout-api/internal/signer"
	"merchant-checkout-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file")
	tracingEnabled := flag.Bool("tracing", false, "Enable OpenTelemetry tracing")
	jaegerEndpoint := flag.String("jaeger", "http://localhost:14268/api/traces", "Jaeger collector endpoint")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize database
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.Seed(); err != nil {
		log.Fatalf("Failed to seed database: %v", err)
	}

	// Initialize tracing
	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     *tracingEnabled,
		Endpoint:    *jaegerEndpoint,
		ServiceName: "merchant-checkout-api",
	}); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer tracing.Shutdown(context.Background())

	// Cache: Redis when configured, in-memory otherwise
	var c cache.Cache
	if cfg.Cache.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()
		c = redisCache
		log.Printf("Cache: redis (%s)", cfg.Cache.RedisAddr)
	} else {
		c = cache.NewInMemoryCache()
		log.Printf("Cache: in-memory")
	}

	// Feature flags
	fm := features.NewManager()
	defer fm.Shutdown()
	fm.Register(features.FeatureCacheEnabled, true, "Catalog search cache")
	fm.Register(features.FeatureEventHooksEnabled, true, "Event-driven hooks")
	fm.Register(features.FeatureLoyaltyForwarding, cfg.Loyalty.URL != "", "Forward payments to loyalty service")

	// Events + loyalty sink
	em := events.NewManager(fm.IsEnabled(features.FeatureEventHooksEnabled))
	defer em.Shutdown()

	if fm.IsEnabled(features.FeatureLoyaltyForwarding) {
		loyaltyClient := loyalty.NewClient(cfg.Loyalty.URL)
		em.Subscribe(events.EventPaymentCompleted, loyaltyClient.EventHandler())
		log.Printf("Loyalty forwarding: %s", cfg.Loyalty.URL)
	}

	// Signer client + payment processor
	signerClient := signer.NewClient(cfg.Signer.URL, time.Duration(cfg.Signer.TimeoutSeconds)*time.Second)
	processor := payment.NewProcessor(signerClient, cfg.OTP.Enabled, cfg.OTP.AmountThreshold)

	// Checkout service
	store := checkout.NewMemoryStore()
	svc := checkout.NewService(store, db, signerClient, processor, em, cfg.Merchant.Domain, cfg.Signer.SigningPolicy)

	// Handlers
	h := handler.NewHandler(svc, processor, c, fm, handler.NewHandlerOptions{
		MaxBodySize:    cfg.Security.MaxRequestBodySize,
		CacheTTL:       time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		MerchantName:   cfg.Merchant.Name,
		MerchantID:     cfg.Merchant.ID,
		MerchantDomain: cfg.Merchant.Domain,
	})

	// DID bootstrap: fetch the merchant wallet so /.well-known/did.json can
	// serve the document. Non-fatal; the endpoint 404s until the signer is up.
	bootstrapCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Signer.TimeoutSeconds)*time.Second)
	if wallet, err := signerClient.GenerateDIDWeb(bootstrapCtx, cfg.Merchant.Domain); err != nil {
		log.Printf("DID bootstrap failed (continuing): %v", err)
	} else {
		h.SetDIDDocument(wallet.DIDDocument)
		log.Printf("Merchant DID: %s", wallet.DID)
	}
	cancel()

	// Rate limiter
	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	if *tracingEnabled {
		r.Use(middleware.TracingMiddleware())
	}

	if rateLimiter != nil {
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Routes
	r.Route("/ucp/v1/checkout-sessions", func(r chi.Router) {
		r.Post("/", h.CreateCheckoutSession)
		r.Get("/{session_id}", h.GetCheckoutSession)
		r.Put("/{session_id}", h.UpdateCheckoutSession)
		r.Post("/{session_id}/complete", h.CompleteCheckoutSession)
	})

	r.Route("/api/promocodes", func(r chi.Router) {
		r.Get("/", h.ListPromocodes)
		r.Post("/", h.CreatePromocode)
		r.Get("/{promocode_id}", h.GetPromocode)
		r.Put("/{promocode_id}", h.UpdatePromocode)
		r.Delete("/{promocode_id}", h.DeletePromocode)
	})

	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Get("/search", h.SearchProducts)
		r.Get("/{product_id}", h.GetProduct)
	})

	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", h.GetSettings)
		r.Put("/", h.UpdateSettings)
	})

	r.Get("/.well-known/did.json", h.GetDIDDocument)
	r.Get("/health", h.Health)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Starting HTTP server on %s", addr)
	log.Printf("Database: %s", cfg.Database.Path)
	log.Printf("Merchant: %s (%s)", cfg.Merchant.Name, cfg.Merchant.Domain)
	log.Printf("Signer: %s (policy: %s)", cfg.Signer.URL, cfg.Signer.SigningPolicy)
	log.Printf("OTP gate: enabled=%t threshold=%.2f", cfg.OTP.Enabled, cfg.OTP.AmountThreshold)

	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
