package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meshwatch/meshcollect/internal/observability"
)

// SQLConfig holds configuration values for the SQLite gateway.
type SQLConfig struct {
	Path string
}

// SQLGateway persists records into a SQLite database. The connection is
// established lazily on the first statement; every statement runs under one
// mutex so the reconnect-and-retry sequence cannot interleave with another
// write. A failed statement triggers exactly one reconnect and retry; the
// second failure is returned and affects only that write.
type SQLGateway struct {
	cfg SQLConfig

	mu sync.Mutex
	db *sql.DB

	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the gateway.
type Option func(*SQLGateway)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *SQLGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *SQLGateway) {
		if metrics != nil {
			g.metrics = metrics
		}
	}
}

// NewSQLGateway constructs a gateway with the provided configuration. No
// connection is opened until the first write.
func NewSQLGateway(cfg SQLConfig, opts ...Option) (*SQLGateway, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage: database path must be provided")
	}

	g := &SQLGateway{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// UpsertDevice merge-upserts a device row. COALESCE keeps stored values when
// the incoming field is absent; last_seen only ever moves forward.
func (g *SQLGateway) UpsertDevice(ctx context.Context, nodeID, displayName, hwModel string) error {
	if nodeID == "" {
		return errors.New("storage: device node id must be provided")
	}
	now := timeToSeconds(time.Now().UTC())
	return g.exec(ctx, "upsert device", `INSERT INTO devices (
	        node_id, display_name, hw_model, first_seen, last_seen
	    ) VALUES (?, ?, ?, ?, ?)
	    ON CONFLICT(node_id) DO UPDATE SET
	        display_name=COALESCE(excluded.display_name, devices.display_name),
	        hw_model=COALESCE(excluded.hw_model, devices.hw_model),
	        last_seen=MAX(devices.last_seen, excluded.last_seen)`,
		nodeID,
		nullString(displayName),
		nullString(hwModel),
		now,
		now,
	)
}

// UpsertGateway records a bridging gateway, advancing its last_seen.
func (g *SQLGateway) UpsertGateway(ctx context.Context, gatewayID string) error {
	if gatewayID == "" {
		return errors.New("storage: gateway id must be provided")
	}
	now := timeToSeconds(time.Now().UTC())
	return g.exec(ctx, "upsert gateway", `INSERT INTO gateways (
	        gateway_id, installed_at, last_seen
	    ) VALUES (?, ?, ?)
	    ON CONFLICT(gateway_id) DO UPDATE SET
	        last_seen=MAX(gateways.last_seen, excluded.last_seen)`,
		gatewayID,
		now,
		now,
	)
}

// SavePosition appends one position row. No dedup by msg id or seq no.
func (g *SQLGateway) SavePosition(ctx context.Context, rec PositionRecord) error {
	return g.exec(ctx, "insert position", `INSERT INTO positions (
	        ts_utc, node_id, lat, lon, alt, speed, heading, accuracy,
	        battery_v, rssi, snr, seq_no, hop_limit, gateway_id, channel_id,
	        msg_id, raw_payload, recorded_at
	    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timeToSeconds(rec.TS),
		rec.NodeID,
		nullFloat(rec.Lat),
		nullFloat(rec.Lon),
		nullFloat(rec.Alt),
		nullFloat(rec.Speed),
		nullFloat(rec.Heading),
		nullFloat(rec.Accuracy),
		nullFloat(rec.BatteryV),
		nullInt(rec.RSSI),
		nullFloat(rec.SNR),
		nullInt(rec.SeqNo),
		nullInt(rec.HopLimit),
		nullString(rec.GatewayID),
		nullString(rec.ChannelID),
		nullString(rec.MsgID),
		nullBytes(rec.Raw),
		timeToSeconds(time.Now().UTC()),
	)
}

// SaveMessage appends one text-message row.
func (g *SQLGateway) SaveMessage(ctx context.Context, rec MessageRecord) error {
	var rxTime any
	if rec.RxTime != nil {
		rxTime = timeToSeconds(*rec.RxTime)
	}
	return g.exec(ctx, "insert message", `INSERT INTO messages (
	        ts_utc, node_id, to_node, channel_id, text_body, rx_time, rssi,
	        snr, hop_limit, msg_id, seq_no, gateway_id, raw_payload, recorded_at
	    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timeToSeconds(rec.TS),
		rec.NodeID,
		nullString(rec.ToNode),
		nullString(rec.ChannelID),
		rec.Body,
		rxTime,
		nullInt(rec.RSSI),
		nullFloat(rec.SNR),
		nullInt(rec.HopLimit),
		nullString(rec.MsgID),
		nullInt(rec.SeqNo),
		nullString(rec.GatewayID),
		nullBytes(rec.Raw),
		timeToSeconds(time.Now().UTC()),
	)
}

// SaveRaw archives the payload bytes unchanged under the original topic.
func (g *SQLGateway) SaveRaw(ctx context.Context, topic string, payload []byte) error {
	return g.exec(ctx, "insert raw packet", `INSERT INTO raw_packets (
	        topic, payload, recorded_at
	    ) VALUES (?, ?, ?)`,
		topic,
		payload,
		timeToSeconds(time.Now().UTC()),
	)
}

// Close releases the database connection if one was established.
func (g *SQLGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil
	}
	if _, err := g.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		g.logger.Warn("final checkpoint failed", slog.Any("error", err))
	}
	err := g.db.Close()
	g.db = nil
	return err
}

func (g *SQLGateway) exec(ctx context.Context, label, query string, args ...any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.execLocked(ctx, query, args...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("storage: %s: %w", label, err)
	}

	g.logger.Warn("statement failed, reconnecting once",
		slog.String("statement", label), slog.Any("error", err))
	g.metrics.IncStoreRetries()
	g.closeLocked()

	if err := g.execLocked(ctx, query, args...); err != nil {
		g.metrics.IncStoreErrors()
		return fmt.Errorf("storage: %s: %w", label, err)
	}
	return nil
}

func (g *SQLGateway) execLocked(ctx context.Context, query string, args ...any) error {
	if err := g.connectLocked(); err != nil {
		return err
	}
	_, err := g.db.ExecContext(ctx, query, args...)
	return err
}

func (g *SQLGateway) connectLocked() error {
	if g.db != nil {
		return nil
	}

	abs, err := filepath.Abs(g.cfg.Path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("ensure directory: %w", err)
	}

	db, err := sql.Open("sqlite", abs)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	if err := configureConnection(db); err != nil {
		db.Close()
		return err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return err
	}

	g.db = db
	g.logger.Info("database connected", slog.String("path", abs))
	return nil
}

func (g *SQLGateway) closeLocked() {
	if g.db == nil {
		return
	}
	_ = g.db.Close()
	g.db = nil
}

func configureConnection(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	statements := []struct {
		label string
		ddl   string
	}{
		{"devices", `CREATE TABLE IF NOT EXISTS devices (
		    node_id TEXT PRIMARY KEY,
		    display_name TEXT,
		    hw_model TEXT,
		    first_seen REAL NOT NULL,
		    last_seen REAL NOT NULL
		)`},
		{"gateways", `CREATE TABLE IF NOT EXISTS gateways (
		    gateway_id TEXT PRIMARY KEY,
		    name TEXT,
		    location_lat REAL,
		    location_lon REAL,
		    location_alt REAL,
		    installed_at REAL NOT NULL,
		    last_seen REAL NOT NULL,
		    notes TEXT
		)`},
		{"positions", `CREATE TABLE IF NOT EXISTS positions (
		    id INTEGER PRIMARY KEY AUTOINCREMENT,
		    ts_utc REAL NOT NULL,
		    node_id TEXT NOT NULL,
		    lat REAL,
		    lon REAL,
		    alt REAL,
		    speed REAL,
		    heading REAL,
		    accuracy REAL,
		    battery_v REAL,
		    rssi INTEGER,
		    snr REAL,
		    seq_no INTEGER,
		    hop_limit INTEGER,
		    gateway_id TEXT,
		    channel_id TEXT,
		    msg_id TEXT,
		    raw_payload TEXT,
		    recorded_at REAL NOT NULL
		)`},
		{"positions node/time index", `CREATE INDEX IF NOT EXISTS idx_positions_node_time
		    ON positions(node_id, ts_utc DESC)`},
		{"positions msg index", `CREATE INDEX IF NOT EXISTS idx_positions_msg
		    ON positions(node_id, seq_no, msg_id)`},
		{"messages", `CREATE TABLE IF NOT EXISTS messages (
		    id INTEGER PRIMARY KEY AUTOINCREMENT,
		    ts_utc REAL NOT NULL,
		    node_id TEXT NOT NULL,
		    to_node TEXT,
		    channel_id TEXT,
		    text_body TEXT,
		    rx_time REAL,
		    rssi INTEGER,
		    snr REAL,
		    hop_limit INTEGER,
		    msg_id TEXT,
		    seq_no INTEGER,
		    gateway_id TEXT,
		    raw_payload TEXT,
		    recorded_at REAL NOT NULL
		)`},
		{"messages node/time index", `CREATE INDEX IF NOT EXISTS idx_messages_node_time
		    ON messages(node_id, ts_utc DESC)`},
		{"messages msg index", `CREATE INDEX IF NOT EXISTS idx_messages_msg
		    ON messages(node_id, seq_no, msg_id)`},
		{"raw_packets", `CREATE TABLE IF NOT EXISTS raw_packets (
		    id INTEGER PRIMARY KEY AUTOINCREMENT,
		    topic TEXT NOT NULL,
		    payload BLOB NOT NULL,
		    recorded_at REAL NOT NULL
		)`},
		{"raw_packets topic/time index", `CREATE INDEX IF NOT EXISTS idx_raw_topic_time
		    ON raw_packets(topic, recorded_at DESC)`},
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt.ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.label, err)
		}
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
