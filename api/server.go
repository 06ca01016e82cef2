/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RealIP:     Client IP from X-Forwarded-For / X-Real-IP
  2. RequestID:  Unique ID per request for tracing
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Per-request deadline
  6. Secure:     Security headers (unrolled/secure)
  7. Rate limit: Requests per minute per client IP (go-chi/httprate)
  8. CORS:       Cross-origin requests for the frontend
  9. Context:    X-Actor and Idempotency-Key headers into the request context

ROUTE GROUPS:
  /api/cultures/*   /api/farmers/*   /api/intakes/*
  /api/stock/*      Stock, goods, purchases, shipments
  /api/cash/*
  /api/contracts/*  /api/payments/*  /api/vouchers/*
  /api/scenarios/*  Demo data
  /api/healthz      Database reachability

SECURITY NOTE:
  No authentication middleware. The X-Actor header is trusted as-is and
  only labels records; put the server behind an authenticating proxy.

SEE ALSO:
  - handlers.go, contracts.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
	"github.com/warp/grain-ledger/settlement"
)

// ActorHeader names the operator performing a request.
const ActorHeader = "X-Actor"

// IdempotencyHeader carries a client key that makes a payment post safe to
// retry. A second request with the same key is answered with 409.
const IdempotencyHeader = "Idempotency-Key"

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	Logger             *slog.Logger
	CORSOrigins        []string
	RateLimitPerMinute int // 0 disables rate limiting
	RequestTimeout     time.Duration
	Production         bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        opts.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !opts.Production,
	})

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := secureMiddleware.Process(w, r); err != nil {
				opts.Logger.Warn("secure headers blocked request", slog.Any("error", err))
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	if opts.RateLimitPerMinute > 0 {
		r.Use(httprate.Limit(opts.RateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests", nil)
			}),
		))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader, IdempotencyHeader},
		AllowCredentials: true,
	}))
	r.Use(requestContext)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", h.Health)

		r.Route("/cultures", func(r chi.Router) {
			r.Get("/", h.ListCultures)
			r.Post("/", h.CreateCulture)
			r.Put("/{id}/price", h.UpdateCulturePrice)
		})

		r.Route("/farmers", func(r chi.Router) {
			r.Get("/", h.ListFarmers)
			r.Post("/", h.CreateFarmer)
			r.Get("/{id}", h.GetFarmer)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/statement", h.GetStatement)
			r.Post("/{id}/credit", h.Credit)
			r.Post("/{id}/debit", h.Debit)
		})

		r.Route("/intakes", func(r chi.Router) {
			r.Get("/", h.ListIntakes)
			r.Post("/", h.CreateIntake)
			r.Get("/{id}", h.GetIntake)
			r.Post("/{id}/quality", h.ResolveIntakeQuality)
		})

		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.ListStock)
			r.Get("/goods", h.ListStockGoods)
			r.Post("/goods", h.CreateStockGood)
			r.Get("/purchases", h.ListPurchases)
			r.Post("/purchases", h.RecordPurchase)
			r.Get("/shipments", h.ListShipments)
			r.Post("/shipments", h.RecordShipment)
			r.Get("/{kind}/{id}", h.GetStock)
			r.Post("/{kind}/{id}/reserve", h.ReserveStock)
			r.Post("/{kind}/{id}/release", h.ReleaseStock)
			r.Post("/{kind}/{id}/adjust", h.AdjustStock)
		})

		r.Route("/cash", func(r chi.Router) {
			r.Get("/", h.GetCashBalances)
			r.Post("/", h.MoveCash)
			r.Get("/transactions", h.ListCashTransactions)
		})

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
			r.Delete("/{id}", h.DeleteContract)
			r.Post("/{id}/activate", h.ActivateContract)
			r.Post("/{id}/close", h.CloseContract)
			r.Post("/{id}/cancel", h.CancelContract)
			r.Get("/{id}/payments", h.ListContractPayments)
			r.Post("/{id}/payments", h.PostPayment)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/cancel", h.CancelPayment)
		})

		r.Route("/vouchers", func(r chi.Router) {
			r.Get("/", h.ListVouchers)
			r.Get("/summary", h.GetVoucherSummary)
			r.Get("/statuses", h.ListVoucherStatuses)
			r.Get("/payments", h.ListVoucherPayments)
			r.Post("/payments", h.CreateVoucherPayment)
			r.Post("/payments/{id}/cancel", h.CancelVoucherPayment)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "Route not found", r.URL.Path)
	})

	return r
}

// requestContext copies the X-Actor and Idempotency-Key headers into the
// settlement context.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			ctx = settlement.WithActor(ctx, actor)
		}
		if key := strings.TrimSpace(r.Header.Get(IdempotencyHeader)); key != "" {
			ctx = settlement.WithIdempotencyKey(ctx, key)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
