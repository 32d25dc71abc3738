// Package camera holds the presentation state of the live capture demo:
// where the capture box sits, what text is on screen and how long the box
// flashes after a capture.
package camera

import (
	"context"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"

	"github.com/ecovision/resin-classifier/internal/classifier"
	"github.com/ecovision/resin-classifier/internal/history"
	"github.com/ecovision/resin-classifier/internal/policy"
)

const (
	KeyCapture = 'c'
	KeyQuit    = 'q'

	IdleText          = "Center the object in the box and press 'c' | 'q' to quit"
	NoObjectText      = "No clear object in the box. Adjust and press 'c'."
	LowConfidenceText = "Low confidence. Move the object closer and press 'c'."
	FailedText        = "Classification failed. Press 'c' to retry."

	NoObjectFlash = 2
	ResultFlash   = 5
)

// CenterSquare is the capture box: a centred square half the shorter side.
func CenterSquare(w, h int) image.Rectangle {
	size := min(w, h) / 2
	x0 := (w - size) / 2
	y0 := (h - size) / 2
	return image.Rect(x0, y0, x0+size, y0+size)
}

// Classifier is satisfied by *classifier.Classifier.
type Classifier interface {
	Classify(img image.Image) (classifier.Prediction, error)
}

// Recorder is satisfied by *history.Store.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

type Session struct {
	policy     policy.Policy
	classifier Classifier
	recorder   Recorder
	log        *logrus.Logger
	text       string
	flash      int
}

func NewSession(p policy.Policy, c Classifier, log *logrus.Logger) *Session {
	return &Session{policy: p, classifier: c, log: log, text: IdleText}
}

// WithRecorder stores every classified capture.
func (s *Session) WithRecorder(r Recorder) *Session {
	s.recorder = r
	return s
}

func (s *Session) Text() string {
	return s.text
}

// Tick advances one rendered frame and reports whether the box should be
// drawn in its flash colour.
func (s *Session) Tick() bool {
	if s.flash > 0 {
		s.flash--
		return true
	}
	return false
}

// Capture runs the region through the decision policy and updates the
// display. Failures only abandon this capture.
func (s *Session) Capture(ctx context.Context, roi image.Image) (policy.Decision, error) {
	d, err := s.policy.Evaluate(roi, s.classifier.Classify)
	if err != nil {
		s.text = FailedText
		s.flash = NoObjectFlash
		if s.log != nil {
			s.log.WithError(err).Error("capture classification failed")
		}
		return d, err
	}

	switch d.Outcome {
	case policy.NoObject:
		s.text = NoObjectText
		s.flash = NoObjectFlash
	case policy.LowConfidence:
		s.text = LowConfidenceText
		s.flash = ResultFlash
	default:
		s.text = FormatPrediction(d.Prediction)
		s.flash = ResultFlash
	}

	if s.log != nil {
		entry := s.log.WithFields(logrus.Fields{
			"outcome": d.Outcome.String(),
			"std_dev": fmt.Sprintf("%.2f", d.StdDev),
		})
		if d.Outcome != policy.NoObject {
			entry = entry.WithFields(logrus.Fields{
				"class":      d.Prediction.Label,
				"confidence": d.Prediction.Confidence,
			})
		}
		entry.Info("capture classified")
	}

	if s.recorder != nil && d.Outcome != policy.NoObject {
		e := history.Entry{
			Class:      d.Prediction.Label,
			Confidence: d.Prediction.Confidence,
			Source:     history.SourceCamera,
			Outcome:    d.Outcome.String(),
		}
		if err := s.recorder.Record(ctx, e); err != nil && s.log != nil {
			s.log.WithError(err).Warn("failed to record capture")
		}
	}
	return d, nil
}

func FormatPrediction(p classifier.Prediction) string {
	return fmt.Sprintf("%s (%.1f%%)", p.Label, p.Confidence*100)
}
