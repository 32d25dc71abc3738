package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ecovision/resin-classifier/internal/middleware"
)

// Route describes one endpoint for the startup banner.
type Route struct {
	Method, Path, Description string
}

var Routes = []Route{
	{http.MethodGet, "/", "Liveness message"},
	{http.MethodGet, "/health", "Health check"},
	{http.MethodPost, "/predict", "Predict from base64 image"},
	{http.MethodPost, "/predict/image", "Predict from image upload"},
	{http.MethodGet, "/history", "Recent predictions"},
}

func NewRouter(h *Handler, logger *logrus.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/predict", h.Predict)
	r.Post("/predict/image", h.PredictFromImage)
	r.Get("/history", h.History)

	return r
}
