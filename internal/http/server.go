package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, ws http.Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOrder)
		r.Get("/", handler.ListOrders)
		r.Get("/{orderId}", handler.GetOrder)
		r.Post("/{orderId}/escrow-evidence", handler.SubmitEscrowEvidence)
		r.Post("/{orderId}/take", handler.TakeOrder)
		r.Post("/{orderId}/payment-evidence", handler.SubmitPaymentEvidence)
		r.Post("/{orderId}/release", handler.ManualRelease)
		r.Post("/{orderId}/cancel", handler.CancelOrder)
		r.Post("/{orderId}/dispute", handler.OpenDispute)
		r.Post("/{orderId}/resolve", handler.ResolveDispute)
		r.Get("/{orderId}/messages", handler.ListMessages)
		r.Post("/{orderId}/messages", handler.PostMessage)
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/{wallet}", handler.GetUser)
		r.Put("/{wallet}", handler.UpdateProfile)
		r.Put("/{wallet}/payment-address", handler.SetPaymentAddress)
	})

	r.Get("/market/stats", handler.MarketStats)

	if ws != nil {
		r.Get("/ws", ws.ServeHTTP)
	}

	return &Server{Router: r}
}
