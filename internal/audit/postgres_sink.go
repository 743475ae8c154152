package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"securebus/internal/logger"
	"securebus/pkg/metrics"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const databaseName = "postgres"

// RunMigrations applies the embedded audit schema.
func RunMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// PostgresSink persists records synchronously. Wrap it in an AsyncSink so
// database latency never reaches the send or receive path.
type PostgresSink struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresSink(db *sql.DB, log logger.Logger) *PostgresSink {
	return &PostgresSink{db: db, logger: log}
}

func (s *PostgresSink) RecordAudit(ctx context.Context, entry Entry) {
	s.exec(ctx, "insert_audit_entry", string(kindAudit), `
		INSERT INTO audit_entries (id, ts, event_type, topic, message_id, violation_count, warning_count, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.Timestamp, entry.EventType, entry.Topic, entry.MessageID,
		entry.ViolationCount, entry.WarningCount, string(entry.Result),
	)
}

func (s *PostgresSink) RecordSecurity(ctx context.Context, event SecurityEvent) {
	details, err := marshalNullable(event.Details)
	if err != nil {
		s.fail(ctx, string(kindSecurity), err)
		return
	}
	s.exec(ctx, "insert_security_event", string(kindSecurity), `
		INSERT INTO security_events (ts, type, severity, component, topic, message_id, description, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.Timestamp, event.Type, string(event.Severity), event.Component,
		event.Topic, event.MessageID, event.Description, details,
	)
}

func (s *PostgresSink) RecordPerformance(ctx context.Context, metric PerformanceMetric) {
	labels, err := marshalNullable(metric.Labels)
	if err != nil {
		s.fail(ctx, string(kindPerformance), err)
		return
	}
	s.exec(ctx, "insert_performance_metric", string(kindPerformance), `
		INSERT INTO performance_metrics (ts, component, name, value, unit, labels)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		metric.Timestamp, metric.Component, metric.Name, metric.Value, metric.Unit, labels,
	)
}

func (s *PostgresSink) RecordBusiness(ctx context.Context, event BusinessEvent) {
	s.exec(ctx, "insert_business_event", string(kindBusiness), `
		INSERT INTO business_events (ts, type, topic, message_id, partition, "offset", duration_ms, encrypted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.Timestamp, event.Type, event.Topic, event.MessageID,
		event.Partition, event.Offset, event.Duration.Milliseconds(), event.Encrypted,
	)
}

func (s *PostgresSink) Entries(ctx context.Context, from, to time.Time) ([]Entry, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, event_type, topic, message_id, violation_count, warning_count, result
		FROM audit_entries
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts ASC`, from, to)
	metrics.ObserveDatabaseQueryDuration(databaseName, "select_audit_entries", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery(databaseName, "select_audit_entries", "error")
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var result string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.Topic, &e.MessageID,
			&e.ViolationCount, &e.WarningCount, &result); err != nil {
			metrics.IncDatabaseQuery(databaseName, "select_audit_entries", "error")
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Result = Result(result)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		metrics.IncDatabaseQuery(databaseName, "select_audit_entries", "error")
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	metrics.IncDatabaseQuery(databaseName, "select_audit_entries", "success")
	return entries, nil
}

func (s *PostgresSink) exec(ctx context.Context, operation, kind, query string, args ...interface{}) {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, args...)
	metrics.ObserveDatabaseQueryDuration(databaseName, operation, time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery(databaseName, operation, "error")
		s.fail(ctx, kind, err)
		return
	}
	metrics.IncDatabaseQuery(databaseName, operation, "success")
}

func (s *PostgresSink) fail(ctx context.Context, kind string, err error) {
	metrics.IncAuditDropped("postgres", kind)
	s.logger.ErrorwCtx(ctx, "Failed to persist audit record",
		"kind", kind,
		"error", err,
	)
}

func marshalNullable(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
