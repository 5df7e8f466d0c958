package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tumor-report/internal/domain"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name       string
		pred       Prediction
		label      domain.Label
		confidence *float64
	}{
		{"string label with confidence", Prediction{"label": "tumor", "confidence": 0.87}, domain.LabelTumor, ptr(0.87)},
		{"yes/no label", Prediction{"prediction": "No"}, domain.LabelNoTumor, nil},
		{"class index", Prediction{"class_id": float64(1), "score": 0.6}, domain.LabelTumor, ptr(0.6)},
		{"int class", Prediction{"class": 0}, domain.LabelNoTumor, nil},
		{"confidence out of range dropped", Prediction{"label": "no_tumor", "probability": 97.0}, domain.LabelNoTumor, nil},
		{"flat probabilities", Prediction{"probabilities": []any{0.2, 0.8}}, domain.LabelTumor, ptr(0.8)},
		{"batched predictions", Prediction{"predictions": []any{[]any{0.9, 0.1}}}, domain.LabelNoTumor, ptr(0.9)},
		{"float32 outputs", Prediction{"outputs": []float32{0.25, 0.75}}, domain.LabelTumor, ptr(0.75)},
		{"tie keeps first class", Prediction{"scores": []float64{0.5, 0.5}}, domain.LabelNoTumor, ptr(0.5)},
		{"logits give no confidence", Prediction{"outputs": []any{-1.2, 3.4}}, domain.LabelTumor, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			label, confidence, err := Normalize(tc.pred)
			require.NoError(t, err)
			assert.Equal(t, tc.label, label)
			if tc.confidence == nil {
				assert.Nil(t, confidence)
			} else {
				require.NotNil(t, confidence)
				assert.InDelta(t, *tc.confidence, *confidence, 1e-6)
			}
		})
	}
}

func TestNormalize_Unrecognized(t *testing.T) {
	for _, pred := range []Prediction{
		{},
		{"verdict": "tumor"},
		{"label": "maybe"},
		{"class_id": float64(2)},
		{"probabilities": []any{0.1, 0.2, 0.7}},
		{"probabilities": "0.1,0.9"},
	} {
		_, _, err := Normalize(pred)
		assert.ErrorIs(t, err, ErrUnrecognizedPrediction, "%v", pred)
	}
}

func ptr(f float64) *float64 { return &f }
