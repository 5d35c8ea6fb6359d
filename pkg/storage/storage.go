// Package storage persists analyzed log entries and detected anomalies in
// PostgreSQL. Persistence is advisory: scoring never waits on or fails
// because of the database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var storeWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "logshield_storage_writes_total",
	Help: "Database writes by table and status",
}, []string{"table", "status"})

func init() {
	_ = prometheus.Register(storeWrites)
}

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// Store wraps the database handle used by the analyzer.
type Store struct {
	db  *sql.DB
	cfg Config
	log zerolog.Logger
}

// Open connects to PostgreSQL, verifies the connection and configures the
// pool.
func Open(cfg Config) (*Store, error) {
	cfg.setDefaults()

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
		int(cfg.ConnectTimeout.Seconds()))

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{
		db:  db,
		cfg: cfg,
		log: log.With().Str("component", "storage").Logger(),
	}, nil
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	driver, err := postgres.WithInstance(s.db, &postgres.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    s.cfg.DBName,
	})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, s.cfg.DBName, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	s.log.Info().Msg("schema migrations applied")
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// LogEntry is one analyzed log line.
type LogEntry struct {
	ID           string
	LogTimestamp time.Time
	SourceIP     string
	EventType    string
	Username     string
	Hostname     string
	StatusCode   int
	RawLog       string
	LogSource    string
	RiskScore    float64
	CreatedAt    time.Time
}

// Anomaly is one detection above the alerting floor, with the full model
// breakdown kept for later review.
type Anomaly struct {
	ID               string
	LogTimestamp     time.Time
	SourceIP         string
	Username         string
	Hostname         string
	EventType        string
	RiskScore        float64
	RiskLevel        string
	Confidence       string
	IForestScore     float64
	DBSCANScore      float64
	GMMScore         float64
	Features         map[string]float64
	Reasons          []string
	Action           string
	RawLog           string
	LogSource        string
	ProcessingTimeMs float64
	ModelVersion     string
	CreatedAt        time.Time
}

// SaveLog inserts one analyzed log entry.
func (s *Store) SaveLog(ctx context.Context, e *LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (id, log_timestamp, source_ip, event_type, username,
			hostname, status_code, raw_log, log_source, risk_score)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)`,
		e.ID, e.LogTimestamp, e.SourceIP, e.EventType, e.Username,
		e.Hostname, e.StatusCode, e.RawLog, e.LogSource, e.RiskScore)
	if err != nil {
		storeWrites.WithLabelValues("logs", "error").Inc()
		return fmt.Errorf("insert log: %w", err)
	}
	storeWrites.WithLabelValues("logs", "ok").Inc()
	return nil
}

// SaveAnomaly inserts one detected anomaly.
func (s *Store) SaveAnomaly(ctx context.Context, a *Anomaly) error {
	features, err := json.Marshal(a.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO anomalies (id, log_timestamp, source_ip, username, hostname,
			event_type, risk_score, risk_level, confidence,
			isolation_forest_score, dbscan_score, gmm_score,
			features, reasons, recommended_action, raw_log, log_source,
			processing_time_ms, model_version)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		a.ID, a.LogTimestamp, a.SourceIP, a.Username, a.Hostname,
		a.EventType, a.RiskScore, a.RiskLevel, a.Confidence,
		a.IForestScore, a.DBSCANScore, a.GMMScore,
		features, reasons, a.Action, a.RawLog, a.LogSource,
		a.ProcessingTimeMs, a.ModelVersion)
	if err != nil {
		storeWrites.WithLabelValues("anomalies", "error").Inc()
		return fmt.Errorf("insert anomaly: %w", err)
	}
	storeWrites.WithLabelValues("anomalies", "ok").Inc()
	return nil
}

// AnomalyFilter narrows RecentAnomalies results. Zero values mean no
// filtering on that field.
type AnomalyFilter struct {
	Hours        int
	MinRiskScore float64
	RiskLevel    string
	SourceIP     string
	Limit        int
	Offset       int
}

// RecentAnomalies returns detections in the look-back window, newest
// first.
func (s *Store) RecentAnomalies(ctx context.Context, f AnomalyFilter) ([]Anomaly, error) {
	if f.Hours <= 0 {
		f.Hours = 24
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}

	query := `
		SELECT id, log_timestamp, source_ip, COALESCE(username, ''),
			COALESCE(hostname, ''), event_type, risk_score, risk_level,
			confidence, isolation_forest_score, dbscan_score, gmm_score,
			features, reasons, recommended_action, raw_log, log_source,
			processing_time_ms, model_version, created_at
		FROM anomalies
		WHERE created_at >= $1 AND risk_score >= $2`
	args := []any{time.Now().UTC().Add(-time.Duration(f.Hours) * time.Hour), f.MinRiskScore}

	if f.RiskLevel != "" {
		args = append(args, f.RiskLevel)
		query += fmt.Sprintf(" AND risk_level = $%d", len(args))
	}
	if f.SourceIP != "" {
		args = append(args, f.SourceIP)
		query += fmt.Sprintf(" AND source_ip = $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var a Anomaly
		var features, reasons []byte
		if err := rows.Scan(&a.ID, &a.LogTimestamp, &a.SourceIP, &a.Username,
			&a.Hostname, &a.EventType, &a.RiskScore, &a.RiskLevel,
			&a.Confidence, &a.IForestScore, &a.DBSCANScore, &a.GMMScore,
			&features, &reasons, &a.Action, &a.RawLog, &a.LogSource,
			&a.ProcessingTimeMs, &a.ModelVersion, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		if err := json.Unmarshal(features, &a.Features); err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}
		if err := json.Unmarshal(reasons, &a.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAnomalies counts detections in the look-back window.
func (s *Store) CountAnomalies(ctx context.Context, hours int) (int, error) {
	if hours <= 0 {
		hours = 24
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anomalies WHERE created_at >= $1`,
		time.Now().UTC().Add(-time.Duration(hours)*time.Hour)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count anomalies: %w", err)
	}
	return n, nil
}
