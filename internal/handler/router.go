package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/political-reasoner/backend/internal/config"
	"github.com/political-reasoner/backend/internal/handler/analysis"
	"github.com/political-reasoner/backend/internal/handler/chat"
	middlewarePkg "github.com/political-reasoner/backend/internal/middleware"
	"github.com/political-reasoner/backend/internal/service/reasoner"
	"github.com/political-reasoner/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the reasoner service.
func NewRouter(serverCfg config.ServerConfig, svc *reasoner.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logging)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: serverCfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-Request-Id"},
		MaxAge:         300,
	}))

	health := healthHandler(svc)
	r.Get("/health", health)

	analysisHandler := analysis.New(svc)
	chatHandler := chat.New(svc)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", health)
		analysisHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
	})

	return r
}

// healthHandler reports liveness. With ?probe=true it also checks that the
// language model answers and returns 503 when it does not.
func healthHandler(svc *reasoner.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probe, _ := strconv.ParseBool(r.URL.Query().Get("probe"))
		status := svc.Health(r.Context(), probe)

		code := http.StatusOK
		if status.Status != reasoner.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		utils.RespondJSON(w, code, status)
	}
}
