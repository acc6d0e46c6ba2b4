package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Archiver performs the bulk archive operation for one cron tick.
type Archiver interface {
	ArchiveStale(cutoff time.Time) (int64, error)
}

// ArchiveScheduler runs the auto-archive sweep on a fixed interval
// parsed from configuration. No example repo in the dependency pack
// ships a real cron library as a direct build dependency, so this
// uses a plain time.Ticker rather than reaching for one.
type ArchiveScheduler struct {
	archiver  Archiver
	logger    *zap.Logger
	interval  time.Duration
	afterDays int
}

// NewArchiveScheduler parses cronExpr, accepting either a bare Go
// duration ("5m") or a "@every <duration>" form.
func NewArchiveScheduler(archiver Archiver, logger *zap.Logger, cronExpr string, afterDays int) (*ArchiveScheduler, error) {
	interval, err := parseInterval(cronExpr)
	if err != nil {
		return nil, err
	}
	return &ArchiveScheduler{archiver: archiver, logger: logger, interval: interval, afterDays: afterDays}, nil
}

func parseInterval(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "@every ") {
		expr = strings.TrimPrefix(expr, "@every ")
	}
	d, err := time.ParseDuration(expr)
	if err != nil {
		return 0, fmt.Errorf("parse archive interval %q: %w", expr, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("archive interval must be positive, got %s", d)
	}
	return d, nil
}

// Run ticks forever (until ctx is cancelled), archiving every
// participant row whose dialog has gone quiet for longer than
// afterDays.
func (s *ArchiveScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *ArchiveScheduler) tick() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.afterDays)
	n, err := s.archiver.ArchiveStale(cutoff)
	if err != nil {
		s.logger.Error("archive sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("archive sweep completed", zap.Int64("archived", n))
	}
}
