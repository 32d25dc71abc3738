package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/ecovision/resin-classifier/internal/cache"
	"github.com/ecovision/resin-classifier/internal/classifier"
	"github.com/ecovision/resin-classifier/internal/history"
	"github.com/ecovision/resin-classifier/internal/labels"
	"github.com/ecovision/resin-classifier/internal/middleware"
	"github.com/ecovision/resin-classifier/internal/response"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const LivenessMessage = "Resin classifier API is running"

// HistoryStore is satisfied by *history.Store.
type HistoryStore interface {
	Record(ctx context.Context, e history.Entry) error
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

type Handler struct {
	classifier   *classifier.Classifier
	modelName    string
	log          *logrus.Logger
	validator    *validator.Validate
	maxBodyBytes int64
	cache        cache.Cache
	history      HistoryStore
}

type Option func(*Handler)

func WithCache(c cache.Cache) Option {
	return func(h *Handler) { h.cache = c }
}

func WithHistory(s HistoryStore) Option {
	return func(h *Handler) { h.history = s }
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBodyBytes = n }
}

func WithModelName(name string) Option {
	return func(h *Handler) { h.modelName = name }
}

func NewHandler(c *classifier.Classifier, log *logrus.Logger, opts ...Option) *Handler {
	h := &Handler{
		classifier:   c,
		log:          log,
		validator:    validator.New(),
		maxBodyBytes: 10 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": LivenessMessage})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"model":   h.modelName,
		"classes": labels.Strings(),
	})
}

// Predict classifies a base64 image sent as {"image_base64": "..."}. The
// payload may carry a data-URI header.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.fail(w, r, bodyError(err), "read_body")
		return
	}

	var req PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.fail(w, r, ErrInvalidJSON, "parse_request_body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.fail(w, r, ErrMissingImage, "validate_request")
		return
	}

	data, err := classifier.DecodeBase64(req.ImageBase64)
	if err != nil {
		h.fail(w, r, err, "decode_base64")
		return
	}

	h.respond(w, r, data, history.SourceAPI)
}

// PredictFromImage classifies a multipart upload in the "image" field.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := r.ParseMultipartForm(h.maxBodyBytes); err != nil {
		h.fail(w, r, bodyError(err), "parse_form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.fail(w, r, ErrMissingUpload, "form_file")
		return
	}
	defer file.Close()

	h.log.WithFields(logrus.Fields{
		"request_id": middleware.GetRequestID(r.Context()),
		"file_name":  header.Filename,
		"file_size":  header.Size,
	}).Debug("received upload")

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, bodyError(err), "read_upload")
		return
	}

	h.respond(w, r, data, history.SourceUpload)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.fail(w, r, ErrInvalidLimit, "parse_limit")
			return
		}
		limit = n
	}

	entries := []history.Entry{}
	if h.history != nil {
		recent, err := h.history.Recent(r.Context(), limit)
		if err != nil {
			h.fail(w, r, err, "list_history")
			return
		}
		entries = recent
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Predictions: entries})
}

// respond classifies encoded image bytes and writes the prediction. No
// confidence or presence gating is applied on this path.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, data []byte, source string) {
	ctx := r.Context()
	key := cache.Key(data)

	pred, hit := classifier.Prediction{}, false
	if h.cache != nil {
		pred, hit = h.cache.Get(ctx, key)
	}
	if !hit {
		var err error
		pred, err = h.classifier.ClassifyBytes(data)
		if err != nil {
			h.fail(w, r, err, "classify")
			return
		}
		if h.cache != nil {
			h.cache.Add(ctx, key, pred)
		}
	}

	h.log.WithFields(logrus.Fields{
		"request_id": middleware.GetRequestID(ctx),
		"class":      pred.Label,
		"confidence": pred.Confidence,
		"source":     source,
		"cached":     hit,
	}).Info("prediction served")

	if h.history != nil {
		e := history.Entry{Class: pred.Label, Confidence: pred.Confidence, Source: source}
		if err := h.history.Record(ctx, e); err != nil {
			h.log.WithError(err).WithField("request_id", middleware.GetRequestID(ctx)).Warn("failed to record prediction")
		}
	}

	writeJSON(w, http.StatusOK, PredictionResponse{
		Class:       string(pred.Label),
		Confidence:  pred.Confidence,
		Predictions: pred.ByLabel(),
	})
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return ErrBodyTooLarge
	}
	return response.Wrap(http.StatusBadRequest, err)
}

// fail maps err to a status code, logs it and writes {"error": ...}.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, operation string) {
	code := http.StatusInternalServerError
	msg := ErrPredictionFault.Error()

	var respErr *response.Error
	switch {
	case errors.As(err, &respErr):
		code, msg = respErr.Code, respErr.Error()
	case errors.Is(err, classifier.ErrDecode):
		code, msg = http.StatusBadRequest, err.Error()
	}

	fields := logrus.Fields{
		"request_id": middleware.GetRequestID(r.Context()),
		"path":       r.URL.Path,
		"operation":  operation,
		"code":       code,
		"error":      err.Error(),
	}
	if code >= 500 {
		h.log.WithFields(fields).Error("request failed")
	} else {
		h.log.WithFields(fields).Warn("request rejected")
	}

	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
