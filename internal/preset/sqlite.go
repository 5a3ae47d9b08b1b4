package preset

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists presets in a single-table SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (and if needed creates) the preset database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("preset: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("preset: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("preset: ping sqlite: %w", err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS voice_presets (
    voice_id TEXT PRIMARY KEY,
    gate_db  REAL NOT NULL,
    open_db  REAL NOT NULL,
    max_open REAL NOT NULL,
    peak_db  REAL NOT NULL,
    avg_db   REAL NOT NULL
);
`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("preset: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, voiceID string) (VoicePreset, bool, error) {
	var p VoicePreset
	err := s.db.QueryRowContext(ctx,
		`SELECT gate_db, open_db, max_open, peak_db, avg_db
		 FROM voice_presets WHERE voice_id = ?`, voiceID).
		Scan(&p.GateDb, &p.OpenDb, &p.MaxOpen, &p.PeakDb, &p.AvgDb)
	if err == sql.ErrNoRows {
		return VoicePreset{}, false, nil
	}
	if err != nil {
		return VoicePreset{}, false, fmt.Errorf("preset: load %q: %w", voiceID, err)
	}
	return p, true, nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) (map[string]VoicePreset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT voice_id, gate_db, open_db, max_open, peak_db, avg_db FROM voice_presets`)
	if err != nil {
		return nil, fmt.Errorf("preset: load all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]VoicePreset)
	for rows.Next() {
		var id string
		var p VoicePreset
		if err := rows.Scan(&id, &p.GateDb, &p.OpenDb, &p.MaxOpen, &p.PeakDb, &p.AvgDb); err != nil {
			return nil, fmt.Errorf("preset: scan: %w", err)
		}
		out[id] = p
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, voiceID string, p VoicePreset) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_presets(voice_id, gate_db, open_db, max_open, peak_db, avg_db)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(voice_id) DO UPDATE SET
		     gate_db=excluded.gate_db, open_db=excluded.open_db,
		     max_open=excluded.max_open, peak_db=excluded.peak_db, avg_db=excluded.avg_db`,
		voiceID, p.GateDb, p.OpenDb, p.MaxOpen, p.PeakDb, p.AvgDb)
	if err != nil {
		return fmt.Errorf("preset: save %q: %w", voiceID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
