package assessment

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/strokesense/strokesense-core/internal/config"
	"github.com/strokesense/strokesense-core/internal/risk"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StoreConfig{
		Path:          filepath.Join(t.TempDir(), "assessments.db"),
		RetentionMode: "persistent",
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertDerivesIDFromTimestamp(t *testing.T) {
	s := openTestStore(t)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id, err := s.Insert(context.Background(), Record{
		Facial:    risk.FacialMetrics{OverallAsymmetry: 0.4},
		RiskLevel: risk.LevelMedium,
		Score:     0.4,
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if want := "1748779200000"; id != want {
		t.Fatalf("expected id %s, got %s", want, id)
	}
}

func TestInsertSameMillisecondSharesID(t *testing.T) {
	s := openTestStore(t)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{Facial: risk.FacialMetrics{}, RiskLevel: risk.LevelLow, Timestamp: ts}
	id1, err := s.Insert(context.Background(), rec)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	id2, err := s.Insert(context.Background(), rec)
	if err != nil {
		t.Fatalf("second insert must not fail on id collision: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected shared id, got %s and %s", id1, id2)
	}
}

func TestListRecentReturnsNewestFirstCappedAtTen(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		_, err := s.Insert(context.Background(), Record{
			Facial:    risk.FacialMetrics{OverallAsymmetry: float64(i) / 15},
			RiskLevel: risk.LevelLow,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	records, err := s.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("expected 10 records, got %d", len(records))
	}
	for i := 0; i < 10; i++ {
		wantTS := base.Add(time.Duration(14-i) * time.Second)
		if !records[i].Timestamp.Equal(wantTS) {
			t.Fatalf("record %d: expected timestamp %v, got %v", i, wantTS, records[i].Timestamp)
		}
	}
}

func TestListRecentCapsOversizedLimit(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		if _, err := s.Insert(context.Background(), Record{
			Facial:    risk.FacialMetrics{},
			RiskLevel: risk.LevelLow,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	records, err := s.ListRecent(context.Background(), 50)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("expected cap of 10, got %d", len(records))
	}
}

func TestRoundTripPreservesOptionalMetrics(t *testing.T) {
	s := openTestStore(t)

	posture := &risk.PostureMetrics{ShoulderImbalance: 0.25, ArmDrop: 0.1}
	speech := &risk.SpeechMetrics{SpeechCoherence: 0.8, Confidence: 70, Clarity: 88, Fluency: 91, Analysis: "clear"}
	if _, err := s.Insert(context.Background(), Record{
		Facial:    risk.FacialMetrics{EyeRatio: 0.05, MouthCornerRatio: 0.1, OverallAsymmetry: 0.12},
		Posture:   posture,
		Speech:    speech,
		RiskLevel: risk.LevelLow,
		Score:     0.19,
		Timestamp: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	records, err := s.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.Posture == nil || got.Posture.ShoulderImbalance != 0.25 {
		t.Fatalf("posture metrics lost: %+v", got.Posture)
	}
	if got.Speech == nil || got.Speech.Analysis != "clear" {
		t.Fatalf("speech metrics lost: %+v", got.Speech)
	}
	if got.RiskLevel != risk.LevelLow {
		t.Fatalf("unexpected level: %s", got.RiskLevel)
	}
}

func TestEphemeralModeWorksWithoutPath(t *testing.T) {
	cfg := config.StoreConfig{RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open ephemeral store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.Insert(context.Background(), Record{
		Facial:    risk.FacialMetrics{},
		RiskLevel: risk.LevelLow,
		Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	records, err := s.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func TestPruneByRetentionDays(t *testing.T) {
	cfg := config.StoreConfig{
		Path:          filepath.Join(t.TempDir(), "assessments.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.Insert(context.Background(), Record{Facial: risk.FacialMetrics{}, RiskLevel: risk.LevelLow, Timestamp: old}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}
	records, err := s.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected old assessments pruned, got %d", len(records))
	}
}
