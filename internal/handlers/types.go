package handlers

import (
	"net/http"

	"github.com/ecovision/resin-classifier/internal/history"
	"github.com/ecovision/resin-classifier/internal/response"
)

type PredictionRequest struct {
	ImageBase64 string `json:"image_base64" validate:"required"`
}

type PredictionResponse struct {
	Class       string             `json:"class"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions,omitempty"`
}

type HistoryResponse struct {
	Predictions []history.Entry `json:"predictions"`
}

var (
	ErrInvalidJSON     = response.NewError(http.StatusBadRequest, "invalid JSON body")
	ErrMissingImage    = response.NewError(http.StatusBadRequest, "image_base64 is required")
	ErrMissingUpload   = response.NewError(http.StatusBadRequest, "no image file provided, use 'image' as the form field name")
	ErrBodyTooLarge    = response.NewError(http.StatusRequestEntityTooLarge, "request body too large")
	ErrInvalidLimit    = response.NewError(http.StatusBadRequest, "limit must be a positive integer")
	ErrPredictionFault = response.NewError(http.StatusInternalServerError, "prediction failed")
)
