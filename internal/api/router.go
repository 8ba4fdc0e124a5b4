package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tadeleke/corebank/internal/auth"
)

// NewRouter wires the public surface. The limiters throttle the auth and
// transfer routes independently; either may be nil (tests, local runs
// without Redis).
func NewRouter(h *Handler, authSvc *auth.Service, authLimiter, transferLimiter mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	authRouter := r.PathPrefix("/api/v1/auth").Subrouter()
	if authLimiter != nil {
		authRouter.Use(authLimiter)
	}
	authRouter.HandleFunc("/signup", h.Signup).Methods("POST")
	authRouter.HandleFunc("/signin", h.Signin).Methods("POST")
	authRouter.HandleFunc("/refresh", h.Refresh).Methods("POST")
	// Logout lives under the auth prefix but needs a verified caller.
	authRouter.Handle("/logout", Authenticate(authSvc)(http.HandlerFunc(h.Logout))).Methods("POST")

	protected := r.PathPrefix("/api/v1").Subrouter()
	protected.Use(Authenticate(authSvc))
	protected.HandleFunc("/users/me", h.Profile).Methods("GET")

	transfers := protected.PathPrefix("/transfers").Subrouter()
	if transferLimiter != nil {
		transfers.Use(transferLimiter)
	}
	transfers.HandleFunc("", h.CreateTransfer).Methods("POST")
	transfers.HandleFunc("", h.History).Methods("GET")

	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(RequireAdmin)
	admin.HandleFunc("/transfers", h.AdminListTransfers).Methods("GET")

	return r
}
