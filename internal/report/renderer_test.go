package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/tumor-report/internal/blobstore"
	"github.com/example/tumor-report/internal/domain"
	"github.com/example/tumor-report/internal/identity"
)

func newTestRenderer(t *testing.T) (*Renderer, *blobstore.LocalStore) {
	t.Helper()
	store, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return NewRenderer(store, identity.NewUUIDGenerator(zap.NewNop()), zap.NewNop()), store
}

func renderedPDF(t *testing.T, store blobstore.Store, ref domain.BlobRef) []byte {
	t.Helper()
	data, err := blobstore.ReadAll(context.Background(), store, ref)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF-")), "not a pdf")
	return data
}

func pdfText(s string) []byte {
	return []byte("(" + s + ")")
}

func TestRender_TumorReport(t *testing.T) {
	r, store := newTestRenderer(t)

	ref, err := r.RenderAt(context.Background(), jane, domain.ClassificationResult{Label: domain.LabelTumor}, highSeverity(), createdAt)
	require.NoError(t, err)
	assert.Equal(t, domain.NamespaceReports, ref.Namespace)
	assert.True(t, identity.IsValid(ref.Key))

	data := renderedPDF(t, store, ref)
	for _, want := range []string{
		Title, HeadingPatient, HeadingResults, HeadingCharacteristics, HeadingRecommendations, HeadingDisclaimer,
		"Jane Doe", "Yes Brain Tumor", "3.50 cm", "HIGH",
	} {
		assert.True(t, bytes.Contains(data, pdfText(want)), "missing %q", want)
	}
}

func TestRender_NoTumorReport(t *testing.T) {
	r, store := newTestRenderer(t)

	ref, err := r.Render(context.Background(), jane, domain.ClassificationResult{Label: domain.LabelNoTumor}, nil)
	require.NoError(t, err)

	data := renderedPDF(t, store, ref)
	assert.True(t, bytes.Contains(data, pdfText("No Brain Tumor")))
	assert.True(t, bytes.Contains(data, pdfText(HeadingDisclaimer)))
	assert.False(t, bytes.Contains(data, pdfText(HeadingCharacteristics)))
	assert.False(t, bytes.Contains(data, pdfText(HeadingRecommendations)))
}

func TestRender_TwiceYieldsDistinctBlobs(t *testing.T) {
	r, store := newTestRenderer(t)
	cls := domain.ClassificationResult{Label: domain.LabelNoTumor}

	first, err := r.RenderAt(context.Background(), jane, cls, nil, createdAt)
	require.NoError(t, err)
	second, err := r.RenderAt(context.Background(), jane, cls, nil, createdAt)
	require.NoError(t, err)

	assert.NotEqual(t, first.Key, second.Key)
	renderedPDF(t, store, first)
	renderedPDF(t, store, second)
}

func TestRender_InvalidInput(t *testing.T) {
	cases := map[string]struct {
		patient domain.PatientRecord
		cls     domain.ClassificationResult
		attrs   *domain.TumorAttributes
	}{
		"empty name":             {domain.PatientRecord{Age: 45, Sex: domain.SexFemale}, domain.ClassificationResult{Label: domain.LabelNoTumor}, nil},
		"zero age":               {domain.PatientRecord{Name: "Jane", Sex: domain.SexFemale}, domain.ClassificationResult{Label: domain.LabelNoTumor}, nil},
		"tumor without attrs":    {jane, domain.ClassificationResult{Label: domain.LabelTumor}, nil},
		"attrs without tumor":    {jane, domain.ClassificationResult{Label: domain.LabelNoTumor}, highSeverity()},
		"unknown classification": {jane, domain.ClassificationResult{}, nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store := &recordingStore{}
			r := NewRenderer(store, identity.NewUUIDGenerator(zap.NewNop()), zap.NewNop())

			_, err := r.RenderAt(context.Background(), tc.patient, tc.cls, tc.attrs, createdAt)
			require.ErrorIs(t, err, domain.ErrRender)
			assert.Equal(t, "RenderError", domain.ErrorKind(err))
			assert.Zero(t, store.puts, "nothing may be stored")
		})
	}
}

func TestRender_StorageFailure(t *testing.T) {
	store := &recordingStore{err: errors.New("bucket unavailable")}
	r := NewRenderer(store, identity.NewUUIDGenerator(zap.NewNop()), zap.NewNop())

	_, err := r.RenderAt(context.Background(), jane, domain.ClassificationResult{Label: domain.LabelNoTumor}, nil, createdAt)
	require.ErrorIs(t, err, domain.ErrStorageWrite)
	assert.Equal(t, 1, store.puts)
}

type recordingStore struct {
	puts int
	err  error
}

func (s *recordingStore) Put(_ context.Context, _ domain.BlobRef, r io.Reader) error {
	s.puts++
	_, _ = io.Copy(io.Discard, r)
	return s.err
}

func (s *recordingStore) Get(context.Context, domain.BlobRef) (io.ReadCloser, error) {
	return nil, blobstore.ErrNotFound
}

func (s *recordingStore) Exists(context.Context, domain.BlobRef) (bool, error) {
	return false, nil
}
