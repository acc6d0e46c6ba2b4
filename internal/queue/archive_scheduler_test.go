package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubArchiver struct {
	cutoff time.Time
	n      int64
}

func (s *stubArchiver) ArchiveStale(cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.n, nil
}

func TestParseInterval_BareDuration(t *testing.T) {
	_, err := NewArchiveScheduler(&stubArchiver{}, zap.NewNop(), "5m", 7)
	require.NoError(t, err)
}

func TestParseInterval_AtEveryForm(t *testing.T) {
	_, err := NewArchiveScheduler(&stubArchiver{}, zap.NewNop(), "@every 30s", 7)
	require.NoError(t, err)
}

func TestParseInterval_RejectsGarbage(t *testing.T) {
	_, err := NewArchiveScheduler(&stubArchiver{}, zap.NewNop(), "not-a-duration", 7)
	require.Error(t, err)
}

func TestParseInterval_RejectsZero(t *testing.T) {
	_, err := NewArchiveScheduler(&stubArchiver{}, zap.NewNop(), "0s", 7)
	require.Error(t, err)
}

func TestArchiveScheduler_TickUsesAfterDaysCutoff(t *testing.T) {
	archiver := &stubArchiver{n: 3}
	s, err := NewArchiveScheduler(archiver, zap.NewNop(), "1h", 10)
	require.NoError(t, err)

	s.tick()

	expected := time.Now().UTC().AddDate(0, 0, -10)
	require.WithinDuration(t, expected, archiver.cutoff, 2*time.Second)
}
