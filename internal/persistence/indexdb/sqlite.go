// Package indexdb keeps a queryable index of stream sessions. Writes are
// queued and applied by a background goroutine; the index never slows a
// stream down and drops records when it falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"meshstream.dev/internal/stream"
)

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTotal     uint64 `json:"drop_total"`
	WriteErrors   uint64 `json:"write_errors"`
}

type SQLiteIndex struct {
	db *sql.DB

	ch   chan stream.Event
	wg   sync.WaitGroup
	once sync.Once

	closed    atomic.Bool
	drops     atomic.Uint64
	writeErrs atomic.Uint64
}

var _ stream.EventLogger = (*SQLiteIndex)(nil)

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan stream.Event, 65536)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			mesh_id TEXT NOT NULL,
			state TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			points INTEGER NOT NULL DEFAULT 0,
			polys INTEGER NOT NULL DEFAULT 0,
			points_type TEXT NOT NULL DEFAULT '',
			max_points INTEGER NOT NULL DEFAULT 0,
			max_polys INTEGER NOT NULL DEFAULT 0,
			chunks INTEGER NOT NULL DEFAULT 0,
			bytes INTEGER NOT NULL DEFAULT 0,
			code TEXT,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_mesh_started ON sessions(mesh_id, started_at);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			points INTEGER NOT NULL,
			polys INTEGER NOT NULL,
			points_offset INTEGER NOT NULL,
			polys_offset INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteStreamEvent(e stream.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- e:
	default:
		// Drop if the indexer falls behind; the JSONL event log remains the source of truth.
		s.drops.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.drops.Load(),
		WriteErrors:   s.writeErrs.Load(),
	}
}

const (
	stmtStart = `INSERT OR REPLACE INTO sessions(session_id,mesh_id,state,started_at,points,polys,points_type,max_points,max_polys)
		VALUES(?,?,'streaming',?,?,?,?,?,?)`
	stmtChunk = `INSERT OR REPLACE INTO chunks(session_id,seq,points,polys,points_offset,polys_offset,bytes,at)
		VALUES(?,?,?,?,?,?,?,?)`
	stmtChunkCount = `UPDATE sessions SET chunks=chunks+1, bytes=bytes+? WHERE session_id=?`
	stmtFinish     = `UPDATE sessions SET state=?, finished_at=?, code=?, error=? WHERE session_id=?`
	// Failures before the plan exists have no started row.
	stmtFailed = `INSERT OR IGNORE INTO sessions(session_id,mesh_id,state,started_at) VALUES(?,?,?,?)`
)

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrs.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(query string, args ...any) bool {
		if _, err := tx.Exec(query, args...); err != nil {
			s.writeErrs.Add(1)
			_ = tx.Rollback()
			tx = nil
			return false
		}
		opCount++
		return true
	}

	handle := func(e stream.Event) {
		begin()
		if tx == nil {
			s.drops.Add(1)
			return
		}
		at := e.Time.UTC().Format(time.RFC3339Nano)
		switch e.Kind {
		case stream.EventStarted:
			exec(stmtStart, e.SessionID, e.MeshID, at, e.Points, e.Polys, e.PointsType, e.MaxPoints, e.MaxPolys)
		case stream.EventChunk:
			if exec(stmtChunk, e.SessionID, e.Chunk, e.ChunkPoints, e.ChunkPolys, e.PointsOffset, e.PolysOffset, e.Bytes, at) {
				exec(stmtChunkCount, e.Bytes, e.SessionID)
			}
		case stream.EventFinished:
			exec(stmtFinish, stream.Done.String(), at, nil, nil, e.SessionID)
		case stream.EventFailed, stream.EventCancelled:
			state := "cancelled"
			if e.Kind == stream.EventFailed {
				state = stream.Failed.String()
			}
			if exec(stmtFailed, e.SessionID, e.MeshID, state, at) {
				exec(stmtFinish, state, at, nullString(e.Code), nullString(e.Error), e.SessionID)
			}
		}
	}

	// An open tx holds the only connection, so idle periods must commit too.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			handle(e)
			if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
				commit()
			}
		case <-ticker.C:
			commit()
		}
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SessionRow is one indexed session.
type SessionRow struct {
	SessionID  string `json:"session_id"`
	MeshID     string `json:"mesh_id"`
	State      string `json:"state"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Points     int    `json:"points"`
	Polys      int    `json:"polys"`
	Chunks     int    `json:"chunks"`
	Bytes      int64  `json:"bytes"`
	Code       string `json:"code,omitempty"`
}

// RecentSessions returns up to limit sessions for meshID, newest first. It
// only sees committed rows.
func (s *SQLiteIndex) RecentSessions(ctx context.Context, meshID string, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, mesh_id, state, started_at, COALESCE(finished_at,''),
		points, polys, chunks, bytes, COALESCE(code,'')
		FROM sessions WHERE mesh_id=? ORDER BY started_at DESC LIMIT ?`, meshID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.SessionID, &r.MeshID, &r.State, &r.StartedAt, &r.FinishedAt,
			&r.Points, &r.Polys, &r.Chunks, &r.Bytes, &r.Code); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
