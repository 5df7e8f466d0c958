package classifier

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/example/tumor-report/internal/domain"
)

// Prediction is a collaborator's native response. Its shape varies by
// backend and is only interpreted by Normalize.
type Prediction map[string]any

var ErrUnrecognizedPrediction = errors.New("unrecognized prediction shape")

var (
	labelKeys      = []string{"label", "class", "class_id", "prediction"}
	confidenceKeys = []string{"confidence", "score", "probability"}
	vectorKeys     = []string{"probabilities", "scores", "predictions", "outputs"}
)

// Normalize maps a native prediction to a label and an optional confidence.
// A confidence outside [0,1] is dropped rather than reported.
func Normalize(p Prediction) (domain.Label, *float64, error) {
	for _, key := range labelKeys {
		raw, ok := p[key]
		if !ok {
			continue
		}
		label, err := parseLabel(raw)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", key, err)
		}
		for _, ckey := range confidenceKeys {
			if c, ok := toFloat(p[ckey]); ok {
				return label, validConfidence(c), nil
			}
		}
		return label, nil, nil
	}

	for _, key := range vectorKeys {
		raw, ok := p[key]
		if !ok {
			continue
		}
		probs, err := toVector(raw)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", key, err)
		}
		idx, best := argmax(probs)
		return labelFromIndex(idx), validConfidence(best), nil
	}

	return "", nil, ErrUnrecognizedPrediction
}

func parseLabel(raw any) (domain.Label, error) {
	if s, ok := raw.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "tumor", "yes", "1", "positive", "yes brain tumor":
			return domain.LabelTumor, nil
		case "no_tumor", "no tumor", "no", "0", "negative", "no brain tumor":
			return domain.LabelNoTumor, nil
		}
		return "", fmt.Errorf("%w: label %q", ErrUnrecognizedPrediction, s)
	}
	if b, ok := raw.(bool); ok {
		if b {
			return domain.LabelTumor, nil
		}
		return domain.LabelNoTumor, nil
	}
	if f, ok := toFloat(raw); ok {
		switch f {
		case 0:
			return domain.LabelNoTumor, nil
		case 1:
			return domain.LabelTumor, nil
		}
		return "", fmt.Errorf("%w: class index %v", ErrUnrecognizedPrediction, f)
	}
	return "", fmt.Errorf("%w: label of type %T", ErrUnrecognizedPrediction, raw)
}

// toVector accepts [p0, p1] or a batch of one, [[p0, p1]].
func toVector(raw any) ([]float64, error) {
	items, ok := raw.([]any)
	if !ok {
		switch v := raw.(type) {
		case []float64:
			return checkVector(v)
		case []float32:
			out := make([]float64, len(v))
			for i, f := range v {
				out[i] = float64(f)
			}
			return checkVector(out)
		case [][]float32:
			if len(v) != 1 {
				return nil, fmt.Errorf("%w: batch of %d", ErrUnrecognizedPrediction, len(v))
			}
			return toVector(v[0])
		}
		return nil, fmt.Errorf("%w: vector of type %T", ErrUnrecognizedPrediction, raw)
	}
	if len(items) == 1 {
		if inner, ok := items[0].([]any); ok {
			items = inner
		}
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := toFloat(item)
		if !ok {
			return nil, fmt.Errorf("%w: element of type %T", ErrUnrecognizedPrediction, item)
		}
		out = append(out, f)
	}
	return checkVector(out)
}

func checkVector(v []float64) ([]float64, error) {
	if len(v) != 2 {
		return nil, fmt.Errorf("%w: expected 2 classes, got %d", ErrUnrecognizedPrediction, len(v))
	}
	return v, nil
}

// argmax keeps the first index on ties.
func argmax(v []float64) (int, float64) {
	idx, best := 0, v[0]
	for i := 1; i < len(v); i++ {
		if v[i] > best {
			idx, best = i, v[i]
		}
	}
	return idx, best
}

// Class index 1 is the tumor class.
func labelFromIndex(idx int) domain.Label {
	if idx == 1 {
		return domain.LabelTumor
	}
	return domain.LabelNoTumor
}

func validConfidence(c float64) *float64 {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return nil
	}
	return &c
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
