package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TFServingCollaborator calls the TensorFlow Serving REST predict API.
type TFServingCollaborator struct {
	client *resty.Client
	model  string
	logger *zap.Logger
}

var _ Collaborator = (*TFServingCollaborator)(nil)

func NewTFServingCollaborator(baseURL, model string, logger *zap.Logger) (*TFServingCollaborator, error) {
	if baseURL == "" || model == "" {
		return nil, errors.New("tfserving url and model name are required")
	}
	return &TFServingCollaborator{
		client: resty.New().SetBaseURL(strings.TrimRight(baseURL, "/")),
		model:  model,
		logger: logger.Named("classifier_tfserving"),
	}, nil
}

func (c *TFServingCollaborator) Name() string { return "tfserving" }

type predictRequest struct {
	Instances [][][][]float32 `json:"instances"`
}

func (c *TFServingCollaborator) Predict(ctx context.Context, t Tensor) (Prediction, error) {
	endpoint := fmt.Sprintf("/v1/models/%s:predict", c.model)
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(predictRequest{Instances: [][][][]float32{t.Nested()}}).
		Post(endpoint)
	if err != nil {
		c.logger.Error("tfserving request failed", zap.Error(err))
		return nil, fmt.Errorf("tfserving request: %w", err)
	}
	if !res.IsSuccess() {
		c.logger.Error("tfserving returned error",
			zap.Int("status_code", res.StatusCode()),
			zap.String("body", res.String()),
		)
		return nil, fmt.Errorf("tfserving returned status %d", res.StatusCode())
	}

	var pred Prediction
	if err := json.Unmarshal(res.Body(), &pred); err != nil {
		return nil, fmt.Errorf("decode tfserving response: %w", err)
	}
	return pred, nil
}
