package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/tumor-report/internal/domain"
	"github.com/example/tumor-report/internal/identity"
	"github.com/example/tumor-report/internal/intake"
	"github.com/example/tumor-report/internal/pipeline"
)

// MaxUploadSize caps the image part of a prediction request.
const MaxUploadSize = intake.MaxUploadSize

// multipartOverhead leaves room for the form fields around the image.
const multipartOverhead = 1 << 20

// Service is the pipeline surface the HTTP layer needs.
type Service interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
	Download(ctx context.Context, reportID string) (io.ReadCloser, error)
	GetReport(ctx context.Context, reportID string) (*pipeline.ReportSummary, error)
	GetMetricsSummary(ctx context.Context) (*pipeline.MetricsSummary, error)
}

// Health describes the classifier wiring reported by /health.
type Health struct {
	Classifier string
	DemoMode   bool
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Service, health Health, logger *zap.Logger) {
	logger = logger.Named("http")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"classifier": health.Classifier,
			"demo_mode":  health.DemoMode,
		})
	})

	router.POST("/predict", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)
		if err := c.Request.ParseMultipartForm(MaxUploadSize); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d bytes", MaxUploadSize)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form is required"})
			return
		}

		patient, err := patientFromForm(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		file, err := imageFromForm(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d bytes", MaxUploadSize)})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		outcome, err := svc.Run(c.Request.Context(), pipeline.Request{Patient: patient, Image: data, Filename: file.Filename})
		if err != nil {
			var stageErr *pipeline.StageError
			if !errors.As(err, &stageErr) {
				logger.Error("prediction failed", zap.String("request_id", GetRequestID(c.Request.Context())), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "state": pipeline.StateFailed})
				return
			}
			c.JSON(statusForKind(stageErr.Kind), gin.H{
				"error":  stageErr.Kind,
				"state":  pipeline.StateFailed,
				"stage":  stageErr.Stage,
				"reason": stageErr.Err.Error(),
			})
			return
		}

		report := outcome.Report
		c.JSON(http.StatusOK, gin.H{
			"report_id":        report.ID,
			"run_id":           outcome.RunID,
			"state":            outcome.State,
			"prediction":       report.Classification.Label,
			"prediction_label": report.Classification.Label.DisplayName(),
			"confidence":       report.Classification.Confidence,
			"demo":             report.Demo,
			"tumor_data":       report.Attributes,
			"patient_info":     report.Patient,
			"download_url":     "/download/" + report.ID,
			"created_at":       report.CreatedAt,
		})
	})

	router.GET("/download/:id", func(c *gin.Context) {
		reportID := c.Param("id")
		if !identity.IsValid(reportID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
			return
		}

		rc, err := svc.Download(c.Request.Context(), reportID)
		if err != nil {
			if errors.Is(err, domain.ErrBlobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
				return
			}
			logger.Error("download failed", zap.String("report_id", reportID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read report"})
			return
		}
		defer rc.Close()

		c.DataFromReader(http.StatusOK, -1, "application/pdf", rc, map[string]string{
			"Content-Disposition": fmt.Sprintf(`attachment; filename="patient_report_%s.pdf"`, reportID),
		})
	})

	router.GET("/reports/:id", func(c *gin.Context) {
		reportID := c.Param("id")
		if !identity.IsValid(reportID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
			return
		}

		summary, err := svc.GetReport(c.Request.Context(), reportID)
		if err != nil {
			if errors.Is(err, domain.ErrBlobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
				return
			}
			logger.Error("report lookup failed", zap.String("report_id", reportID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read report"})
			return
		}

		c.JSON(http.StatusOK, summary)
	})

	router.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			if errors.Is(err, pipeline.ErrRunLogDisabled) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run log is not configured"})
				return
			}
			logger.Error("metrics aggregation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func patientFromForm(c *gin.Context) (domain.PatientRecord, error) {
	name := strings.TrimSpace(c.PostForm("patient_name"))
	if name == "" {
		return domain.PatientRecord{}, errors.New("patient_name is required")
	}

	age, err := strconv.Atoi(strings.TrimSpace(c.PostForm("patient_age")))
	if err != nil || age <= 0 {
		return domain.PatientRecord{}, errors.New("patient_age must be a positive integer")
	}

	sex, err := domain.ParseSex(c.PostForm("patient_sex"))
	if err != nil {
		return domain.PatientRecord{}, err
	}

	return domain.PatientRecord{Name: name, Age: age, Sex: sex}, nil
}

// imageFromForm accepts the upload under "file" or "image".
func imageFromForm(c *gin.Context) (*multipart.FileHeader, error) {
	file, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return c.FormFile("image")
	}
	return file, err
}

func statusForKind(kind string) int {
	switch kind {
	case "InvalidFileType":
		return http.StatusUnsupportedMediaType
	case "ImageDecodeError", "RenderError":
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
