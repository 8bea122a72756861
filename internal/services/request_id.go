package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestCounter counts requests created in [from, to) (unix seconds).
type RequestCounter interface {
	CountRequestsBetween(ctx context.Context, from, to int64) (int, error)
}

// RequestIDGenerator produces <PREFIX>_<YEAR>_<SEQ> identifiers.
//
// SEQ is this year's request count plus one, so two concurrent submissions can
// receive the same id. The insert fails on the primary key in that case and
// the caller retries; ids stay best-effort rather than strictly sequential.
type RequestIDGenerator struct {
	counter RequestCounter
	prefix  string
	logger  *zap.Logger
	now     func() time.Time
}

func NewRequestIDGenerator(counter RequestCounter, prefix string, logger *zap.Logger) *RequestIDGenerator {
	if prefix == "" {
		prefix = "WR"
	}
	return &RequestIDGenerator{counter: counter, prefix: prefix, logger: logger, now: time.Now}
}

// Next never fails: when counting is unavailable it falls back to a random
// eight-character suffix.
func (g *RequestIDGenerator) Next(ctx context.Context) string {
	now := g.now().UTC()
	year := now.Year()
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	to := time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()

	count, err := g.counter.CountRequestsBetween(ctx, from, to)
	if err != nil {
		g.logger.Warn("⚠️  [REQUEST-ID] Count failed, using random suffix", zap.Error(err))
		return g.Fallback()
	}
	return fmt.Sprintf("%s_%d_%03d", g.prefix, year, count+1)
}

// Fallback returns <PREFIX>_<YEAR>_<8 upper-case hex chars>.
func (g *RequestIDGenerator) Fallback() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("%s_%d_%s", g.prefix, g.now().UTC().Year(), suffix)
}
