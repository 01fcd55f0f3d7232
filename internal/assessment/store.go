package assessment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/strokesense/strokesense-core/internal/config"
	"github.com/strokesense/strokesense-core/internal/risk"
	_ "modernc.org/sqlite"
)

// Record is one persisted screening assessment.
type Record struct {
	ID        string               `json:"id"`
	Facial    risk.FacialMetrics   `json:"asymmetryMetrics"`
	Posture   *risk.PostureMetrics `json:"postureMetrics,omitempty"`
	Speech    *risk.SpeechMetrics  `json:"speechMetrics,omitempty"`
	RiskLevel risk.Level           `json:"riskLevel"`
	Score     float64              `json:"score"`
	Timestamp time.Time            `json:"timestamp"`
}

// Store is the append/list-recent assessment log, backed by SQLite. Inserts
// are independent; ListRecent reads a consistent snapshot in one query.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store. Ephemeral retention uses an in-memory database
// so the insert/list interface behaves identically without touching disk.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dsn := "file::memory:?_pragma=foreign_keys(ON)"
	if cfg.RetentionMode != "ephemeral" {
		dir := filepath.Dir(cfg.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.RetentionMode == "ephemeral" {
		// An in-memory database exists per connection; pin the pool to one
		// so every query sees the same data.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("assessment store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("assessment store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT NOT NULL,
    facial BLOB NOT NULL,
    posture BLOB,
    speech BLOB,
    risk_level TEXT NOT NULL,
    score REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends one assessment and returns its identifier. The id is the
// capture time in milliseconds; two inserts within the same millisecond share
// an id. That collision is a documented property of the format, not guarded
// against, which is why id is not a primary key.
func (s *Store) Insert(ctx context.Context, rec Record) (string, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock().UTC()
	}
	id := strconv.FormatInt(rec.Timestamp.UnixMilli(), 10)

	facial, err := json.Marshal(rec.Facial)
	if err != nil {
		return "", fmt.Errorf("marshal facial metrics: %w", err)
	}
	var posture, speech []byte
	if rec.Posture != nil {
		if posture, err = json.Marshal(rec.Posture); err != nil {
			return "", fmt.Errorf("marshal posture metrics: %w", err)
		}
	}
	if rec.Speech != nil {
		if speech, err = json.Marshal(rec.Speech); err != nil {
			return "", fmt.Errorf("marshal speech metrics: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments(id, facial, posture, speech, risk_level, score, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		id, facial, posture, speech, string(rec.RiskLevel), rec.Score, rec.Timestamp.UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListRecent returns at most limit assessments, newest first. Limit defaults
// to and is capped at 10.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 10 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, facial, posture, speech, risk_level, score, created_at
		 FROM assessments ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var facial, posture, speech []byte
		var level, created string
		if err := rows.Scan(&rec.ID, &facial, &posture, &speech, &level, &rec.Score, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(facial, &rec.Facial); err != nil {
			return nil, fmt.Errorf("decode facial metrics: %w", err)
		}
		if len(posture) > 0 {
			rec.Posture = &risk.PostureMetrics{}
			if err := json.Unmarshal(posture, rec.Posture); err != nil {
				return nil, fmt.Errorf("decode posture metrics: %w", err)
			}
		}
		if len(speech) > 0 {
			rec.Speech = &risk.SpeechMetrics{}
			if err := json.Unmarshal(speech, rec.Speech); err != nil {
				return nil, fmt.Errorf("decode speech metrics: %w", err)
			}
		}
		rec.RiskLevel = risk.Level(level)
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.Timestamp = ts
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune applies configured retention on startup.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" {
		return nil
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err := s.db.ExecContext(ctx, `DELETE FROM assessments WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxAssessments > 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM assessments WHERE rowid IN (
			SELECT rowid FROM assessments ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxAssessments)
		if err != nil {
			return err
		}
	}
	return nil
}
