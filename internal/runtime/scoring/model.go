package scoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/drblury/predictflow/internal/runtime/batch"
	errspkg "github.com/drblury/predictflow/internal/runtime/errors"
	"github.com/drblury/predictflow/internal/runtime/jsoncodec"
)

const (
	hoursPerDay = 24
	daysPerWeek = 7
)

// Model is the waiting-time predictor shipped with the worker: a linear term
// on queue length plus per-hour and per-weekday offsets, floored at
// MinPrediction. It is immutable once loaded and safe for concurrent use.
type Model struct {
	Name              string    `yaml:"name" json:"name"`
	Intercept         float64   `yaml:"intercept" json:"intercept"`
	QueueLengthWeight float64   `yaml:"queue_length_weight" json:"queue_length_weight"`
	HourOffsets       []float64 `yaml:"hour_offsets" json:"hour_offsets"`
	DayOfWeekOffsets  []float64 `yaml:"day_of_week_offsets" json:"day_of_week_offsets"`
	MinPrediction     float64   `yaml:"min_prediction" json:"min_prediction"`
}

// LoadModel reads a model artifact. The format follows the file extension:
// .yaml/.yml or .json. Any failure is a configuration error.
func LoadModel(path string) (*Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errspkg.Config("load model", errors.New("model path is required"))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errspkg.Config("load model", err)
	}
	m, err := ParseModel(raw, filepath.Ext(path))
	if err != nil {
		return nil, errspkg.Config("load model "+path, err)
	}
	return m, nil
}

// ParseModel decodes a model artifact in the format named by ext and validates it.
func ParseModel(raw []byte, ext string) (*Model, error) {
	var m Model
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := jsoncodec.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported model format %q", ext)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the offset table sizes and that every coefficient is finite.
func (m *Model) Validate() error {
	var errs []error
	if n := len(m.HourOffsets); n != 0 && n != hoursPerDay {
		errs = append(errs, fmt.Errorf("hour_offsets: expected %d values, got %d", hoursPerDay, n))
	}
	if n := len(m.DayOfWeekOffsets); n != 0 && n != daysPerWeek {
		errs = append(errs, fmt.Errorf("day_of_week_offsets: expected %d values, got %d", daysPerWeek, n))
	}
	coefficients := append([]float64{m.Intercept, m.QueueLengthWeight, m.MinPrediction}, m.HourOffsets...)
	coefficients = append(coefficients, m.DayOfWeekOffsets...)
	for _, c := range coefficients {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			errs = append(errs, errors.New("model coefficients must be finite"))
			break
		}
	}
	return errors.Join(errs...)
}

// Score implements Scorer. Out of range hours or weekdays contribute no offset.
func (m *Model) Score(ctx context.Context, features []batch.TicketFeatures) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float64, len(features))
	for i, f := range features {
		v := m.Intercept + m.QueueLengthWeight*float64(f.QueueLength)
		v += offset(m.HourOffsets, f.Hour)
		v += offset(m.DayOfWeekOffsets, f.DayOfWeek)
		out[i] = math.Max(v, m.MinPrediction)
	}
	return out, nil
}

func offset(table []float64, idx int64) float64 {
	if idx < 0 || idx >= int64(len(table)) {
		return 0
	}
	return table[idx]
}
