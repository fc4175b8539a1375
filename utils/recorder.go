package utils

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TickRecord is one control tick as stored by the Recorder.
type TickRecord struct {
	At             time.Time
	Enabled        bool
	Published      bool
	Stale          bool
	TargetLinear   float64
	TargetAngular  float64
	CurrentLinear  float64
	CurrentAngular float64
	Throttle       float64
	Brake          float64
	Steer          float64
}

// Recorder stores tick records in SQLite. Record never blocks: records are
// queued and written in batches by a background goroutine, and dropped when
// the queue is full.
type Recorder struct {
	conn      *sql.DB
	log       *Logger
	queue     chan TickRecord
	flushSize int
	flushTime time.Duration

	dropped atomic.Uint64
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// OpenRecorder opens (or creates) the database at path.
func OpenRecorder(path string, flushSize int, flushInterval time.Duration, log *Logger) (*Recorder, error) {
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open recorder db: %w", err)
	}
	conn.SetMaxOpenConns(1) // single writer

	if err := initRecorderSchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init recorder db: %w", err)
	}

	if flushSize <= 0 {
		flushSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	if log == nil {
		log = NewLogger(nil, CRITICAL)
	}

	r := &Recorder{
		conn:      conn,
		log:       log,
		queue:     make(chan TickRecord, flushSize*8),
		flushSize: flushSize,
		flushTime: flushInterval,
		stop:      make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r, nil
}

func initRecorderSchema(conn *sql.DB) error {
	_, err := conn.Exec(`
	CREATE TABLE IF NOT EXISTS ticks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at DATETIME NOT NULL,
		enabled INTEGER NOT NULL,
		published INTEGER NOT NULL,
		stale INTEGER NOT NULL,
		target_linear REAL NOT NULL,
		target_angular REAL NOT NULL,
		current_linear REAL NOT NULL,
		current_angular REAL NOT NULL,
		throttle REAL NOT NULL,
		brake REAL NOT NULL,
		steer REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ticks_at ON ticks(at);
	`)
	return err
}

// Record enqueues rec and reports whether it was accepted.
func (r *Recorder) Record(rec TickRecord) bool {
	select {
	case r.queue <- rec:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of records discarded because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushTime)
	defer ticker.Stop()

	batch := make([]TickRecord, 0, r.flushSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.insertBatch(batch); err != nil {
			r.log.Error("recorder: insert %d ticks: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
			if len(batch) >= r.flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stop:
			for {
				select {
				case rec := <-r.queue:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) insertBatch(batch []TickRecord) error {
	tx, err := r.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO ticks
		(at, enabled, published, stale, target_linear, target_angular,
		 current_linear, current_angular, throttle, brake, steer)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range batch {
		if _, err := stmt.Exec(rec.At.UTC(), boolToInt(rec.Enabled), boolToInt(rec.Published),
			boolToInt(rec.Stale), rec.TargetLinear, rec.TargetAngular,
			rec.CurrentLinear, rec.CurrentAngular, rec.Throttle, rec.Brake, rec.Steer); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Count returns the number of stored ticks.
func (r *Recorder) Count() (int64, error) {
	var n int64
	err := r.conn.QueryRow(`SELECT COUNT(*) FROM ticks`).Scan(&n)
	return n, err
}

// PublishedCount returns the number of stored ticks whose command was sent.
func (r *Recorder) PublishedCount() (int64, error) {
	var n int64
	err := r.conn.QueryRow(`SELECT COUNT(*) FROM ticks WHERE published = 1`).Scan(&n)
	return n, err
}

// Close stops the writer, stores everything queued and closes the
// database. It is safe to call more than once.
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		r.wg.Wait()
		err = r.conn.Close()
	})
	return err
}

// boolToInt converts bool to int (for SQLite columns)
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
