package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handler *CheckoutHandler, limiter *RateLimiter, auth *Authenticator) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.With(limiter.Middleware).Post("/checkout", handler.StartCheckout)

		r.Group(func(r chi.Router) {
			r.Use(RequireOwner)

			r.Get("/checkout", handler.GetCheckout)
			r.Delete("/checkout", handler.CloseCheckout)
			r.With(limiter.Middleware).Post("/checkout/retry", handler.RetryCheckout)
			r.Get("/checkout/history", handler.ListHistory)
			r.Get("/subscription", handler.GetSubscription)
			r.Get("/metrics", handler.GetMetrics)
		})
	})

	return r
}
