// Package identity issues collision-resistant identifiers for uploaded
// images and rendered reports.
package identity

import (
	"encoding/binary"
	"io"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Generator returns identifiers that are unique across concurrent callers for
// the lifetime of the process. It never fails.
type Generator interface {
	NewID() string
}

// UUIDGenerator issues random (version 4) UUIDs. When the primary entropy
// source fails it switches to a process-local ChaCha8 stream, which cannot
// repeat within the process.
type UUIDGenerator struct {
	primary io.Reader
	logger  *zap.Logger

	mu        sync.Mutex
	fallback  *rand.ChaCha8
	fallbacks atomic.Int64
}

var _ Generator = (*UUIDGenerator)(nil)

// NewUUIDGenerator draws from crypto/rand.
func NewUUIDGenerator(logger *zap.Logger) *UUIDGenerator {
	return &UUIDGenerator{logger: logger.Named("identity")}
}

// NewUUIDGeneratorFromReader draws from r instead of crypto/rand.
func NewUUIDGeneratorFromReader(r io.Reader, logger *zap.Logger) *UUIDGenerator {
	return &UUIDGenerator{primary: r, logger: logger.Named("identity")}
}

// NewID returns the canonical 36 character form.
func (g *UUIDGenerator) NewID() string {
	var (
		id  uuid.UUID
		err error
	)
	if g.primary != nil {
		id, err = uuid.NewRandomFromReader(g.primary)
	} else {
		id, err = uuid.NewRandom()
	}
	if err == nil {
		return id.String()
	}

	if g.fallbacks.Add(1) == 1 {
		g.logger.Warn("primary entropy source failed, switching to fallback stream", zap.Error(err))
	}
	return g.fromFallback()
}

// fallbackCount reports how many identifiers came from the fallback stream.
func (g *UUIDGenerator) fallbackCount() int64 {
	return g.fallbacks.Load()
}

func (g *UUIDGenerator) fromFallback() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.fallback == nil {
		g.fallback = rand.NewChaCha8(fallbackSeed())
	}
	// ChaCha8.Read never returns an error.
	id, _ := uuid.NewRandomFromReader(g.fallback)
	return id.String()
}

func fallbackSeed() [32]byte {
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[0:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint64(seed[8:16], uint64(os.Getpid()))
	binary.LittleEndian.PutUint64(seed[16:24], rand.Uint64())
	binary.LittleEndian.PutUint64(seed[24:32], rand.Uint64())
	return seed
}

// IsValid reports whether id has the shape NewID produces.
func IsValid(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
