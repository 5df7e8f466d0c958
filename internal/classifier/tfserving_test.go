package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTFServingCollaborator_Predict(t *testing.T) {
	var got predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/models/tumor:predict", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"predictions": [[0.3, 0.7]]}`))
	}))
	defer srv.Close()

	collab, err := NewTFServingCollaborator(srv.URL+"/", "tumor", zap.NewNop())
	require.NoError(t, err)

	pred, err := collab.Predict(context.Background(), testTensor())
	require.NoError(t, err)

	require.Len(t, got.Instances, 1)
	assert.Len(t, got.Instances[0], InputSize)
	assert.Len(t, got.Instances[0][0], InputSize)
	assert.Len(t, got.Instances[0][0][0], Channels)

	label, confidence, err := Normalize(pred)
	require.NoError(t, err)
	assert.Equal(t, "tumor", string(label))
	require.NotNil(t, confidence)
	assert.InDelta(t, 0.7, *confidence, 1e-9)
}

func TestTFServingCollaborator_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	collab, err := NewTFServingCollaborator(srv.URL, "missing", zap.NewNop())
	require.NoError(t, err)

	_, err = collab.Predict(context.Background(), testTensor())
	assert.ErrorContains(t, err, "404")
}

func TestNewTFServingCollaborator_RequiresConfig(t *testing.T) {
	_, err := NewTFServingCollaborator("", "tumor", zap.NewNop())
	assert.Error(t, err)
}
