package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kingsloob1/snipfair-app-sub002/appointment"
	"github.com/kingsloob1/snipfair-app-sub002/auth"
	"github.com/kingsloob1/snipfair-app-sub002/dispute"
	"github.com/kingsloob1/snipfair-app-sub002/ledger"
	"github.com/kingsloob1/snipfair-app-sub002/payments"
)

// Server bundles the domain services behind the HTTP surface.
type Server struct {
	authService   *auth.Service
	appointments  *appointment.Service
	captures      *appointment.CaptureService
	disputes      *dispute.Service
	ledger        *ledger.Repository
	payoutMethods *payments.Service
	validate      *validator.Validate
	log           *zap.Logger
}

func NewServer(
	authService *auth.Service,
	appointments *appointment.Service,
	captures *appointment.CaptureService,
	disputes *dispute.Service,
	lgr *ledger.Repository,
	payoutMethods *payments.Service,
	log *zap.Logger,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		authService:   authService,
		appointments:  appointments,
		captures:      captures,
		disputes:      disputes,
		ledger:        lgr,
		payoutMethods: payoutMethods,
		validate:      validator.New(),
		log:           log,
	}
}

// Router assembles the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(Recover(s.log))
	r.Use(RequestLogger(s.log))

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	// Gateway webhooks authenticate by idempotency key + shared secret at the
	// edge, not by user JWT.
	r.Post("/api/webhooks/payment-capture", s.handlePaymentCapture)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(s.authService))

		r.Get("/api/me", s.handleMe)
		r.Get("/api/transactions", s.handleTransactions)

		r.Post("/api/appointments", s.handleCreateAppointment)
		r.Get("/api/appointments/status", s.handleBookingStatus)
		r.Post("/api/appointments/{id}/advance", s.handleAdvance)
		r.Post("/api/appointments/{id}/exit", s.handleExit)

		r.Post("/api/disputes", s.handleRaiseDispute)
		r.Get("/api/disputes", s.handleListDisputes)
		r.Get("/api/disputes/{id}/messages", s.handleListMessages)
		r.Post("/api/disputes/{id}/messages", s.handlePostMessage)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(auth.RoleAdmin))

			r.Delete("/api/appointments/{id}", s.handleSoftDeleteAppointment)
			r.Post("/api/disputes/{id}/resolve", s.handleResolveDispute)

			r.Get("/api/admin/payment-methods", s.handleListPaymentMethods)
			r.Post("/api/admin/payment-methods", s.handleCreatePaymentMethod)
			r.Post("/api/admin/payment-methods/{id}/default", s.handleSetDefaultPaymentMethod)
			r.Delete("/api/admin/payment-methods/{id}", s.handleDeletePaymentMethod)
		})
	})

	return r
}
