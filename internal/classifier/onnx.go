package classifier

import (
	"context"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/example/tumor-report/internal/domain"
)

type ONNXConfig struct {
	ModelPath  string
	RuntimeLib string
	InputName  string
	OutputName string
}

// ONNXCollaborator runs a local two-class model with input [1,240,240,3]
// and softmax output [1,2].
type ONNXCollaborator struct {
	session    *ort.DynamicAdvancedSession
	ownsEnv    bool
	outputName string
	logger     *zap.Logger
}

var _ Collaborator = (*ONNXCollaborator)(nil)

// NewONNXCollaborator loads the model. A missing model file or runtime
// library is reported as ErrClassifierUnavailable.
func NewONNXCollaborator(cfg ONNXConfig, logger *zap.Logger) (*ONNXCollaborator, error) {
	if cfg.ModelPath == "" || cfg.RuntimeLib == "" {
		return nil, fmt.Errorf("%w: onnx model path and runtime library are required", domain.ErrClassifierUnavailable)
	}
	for _, p := range []string{cfg.ModelPath, cfg.RuntimeLib} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrClassifierUnavailable, err)
		}
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output"
	}

	ownsEnv := false
	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(cfg.RuntimeLib)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: could not init ONNX Runtime: %w", domain.ErrClassifierUnavailable, err)
		}
		ownsEnv = true
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		nil,
	)
	if err != nil {
		if ownsEnv {
			_ = ort.DestroyEnvironment()
		}
		return nil, fmt.Errorf("%w: failed to create session: %w", domain.ErrClassifierUnavailable, err)
	}

	return &ONNXCollaborator{
		session:    session,
		ownsEnv:    ownsEnv,
		outputName: cfg.OutputName,
		logger:     logger.Named("classifier_onnx"),
	}, nil
}

func (o *ONNXCollaborator) Name() string { return "onnx" }

func (o *ONNXCollaborator) Predict(ctx context.Context, t Tensor) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inT, err := ort.NewTensor(ort.NewShape(t.Shape()...), t.Float32())
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inT.Destroy()

	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outT.Destroy()

	if err := o.session.Run([]ort.Value{inT}, []ort.Value{outT}); err != nil {
		return nil, fmt.Errorf("session run error: %w", err)
	}

	probs := append([]float32(nil), outT.GetData()...)
	o.logger.Debug("onnx prediction", zap.Float32s(o.outputName, probs))
	return Prediction{"probabilities": probs}, nil
}

func (o *ONNXCollaborator) Close() error {
	if err := o.session.Destroy(); err != nil {
		return err
	}
	if o.ownsEnv {
		return ort.DestroyEnvironment()
	}
	return nil
}
