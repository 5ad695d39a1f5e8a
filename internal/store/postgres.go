package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"iotmon/internal/logger"
	"iotmon/internal/models"
)

// Postgres is the production Store backed by lib/pq.
type Postgres struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPostgres opens a connection pool for the given DSN.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{
		db:  db,
		log: logger.WithComponent("store"),
	}, nil
}

// NewPostgresFromDB wraps an existing connection, used by tests.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{
		db:  db,
		log: logger.WithComponent("store"),
	}
}

func (p *Postgres) DeviceExists(ctx context.Context, deviceID int) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM devices WHERE device_id = $1)`, deviceID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: query device: %v", ErrUnavailable, err)
	}
	return exists, nil
}

func (p *Postgres) SensorExists(ctx context.Context, sensorID int) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sensors WHERE sensor_id = $1)`, sensorID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: query sensor: %v", ErrUnavailable, err)
	}
	return exists, nil
}

func (p *Postgres) AppendReading(ctx context.Context, c *models.CandidateReading) (*models.Reading, error) {
	r := &models.Reading{
		DeviceID:  c.DeviceID,
		SensorID:  c.SensorID,
		Value:     c.Value,
		Timestamp: c.Timestamp,
		Status:    c.Status,
		Quality:   c.Quality,
	}

	err := p.db.QueryRowContext(ctx, `
		INSERT INTO sensor_readings (device_id, sensor_id, value, timestamp, status, quality, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING reading_id, created_at`,
		c.DeviceID, c.SensorID, c.Value, c.Timestamp, nullString(c.Status), nullString(c.Quality),
	).Scan(&r.ReadingID, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: insert reading: %v", ErrUnavailable, err)
	}

	return r, nil
}

func (p *Postgres) AppendReadings(ctx context.Context, cs []*models.CandidateReading) ([]*models.Reading, error) {
	if len(cs) == 0 {
		return nil, nil
	}

	// One multi-row insert so the batch commits atomically.
	var sb strings.Builder
	sb.WriteString(`INSERT INTO sensor_readings (device_id, sensor_id, value, timestamp, status, quality, created_at) VALUES `)
	args := make([]interface{}, 0, len(cs)*6)
	for i, c := range cs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, NOW())",
			base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, c.DeviceID, c.SensorID, c.Value, c.Timestamp,
			nullString(c.Status), nullString(c.Quality))
	}
	sb.WriteString(" RETURNING reading_id, created_at")

	rows, err := p.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: insert readings: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	readings := make([]*models.Reading, 0, len(cs))
	for i := 0; rows.Next(); i++ {
		c := cs[i]
		r := &models.Reading{
			DeviceID:  c.DeviceID,
			SensorID:  c.SensorID,
			Value:     c.Value,
			Timestamp: c.Timestamp,
			Status:    c.Status,
			Quality:   c.Quality,
		}
		if err := rows.Scan(&r.ReadingID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan reading: %v", ErrUnavailable, err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read batch rows: %v", ErrUnavailable, err)
	}

	return readings, nil
}

func (p *Postgres) TouchDeviceLastSeen(ctx context.Context, deviceID int, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE devices SET last_seen_at = $2, updated_at = $2 WHERE device_id = $1`,
		deviceID, at)
	if err != nil {
		return fmt.Errorf("%w: touch device: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) ListDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT device_id, device_name, device_type, COALESCE(location, ''), is_active, last_seen_at, created_at, updated_at
		FROM devices
		ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d := &models.Device{}
		var lastSeen sql.NullTime
		if err := rows.Scan(&d.DeviceID, &d.DeviceName, &d.DeviceType, &d.Location,
			&d.IsActive, &lastSeen, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan device: %v", ErrUnavailable, err)
		}
		if lastSeen.Valid {
			t := lastSeen.Time
			d.LastSeenAt = &t
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read devices: %v", ErrUnavailable, err)
	}

	return devices, nil
}

func (p *Postgres) EnabledRules(ctx context.Context) ([]*models.AlertRule, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT alert_rule_id, device_id, sensor_id, rule_name, rule_type, condition,
		       threshold_value, COALESCE(comparison_operator, ''), severity, is_enabled, created_at, updated_at
		FROM alert_rules
		WHERE is_enabled = TRUE
		ORDER BY alert_rule_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list rules: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		r := &models.AlertRule{}
		var deviceID, sensorID sql.NullInt64
		var threshold sql.NullFloat64
		if err := rows.Scan(&r.RuleID, &deviceID, &sensorID, &r.RuleName, &r.RuleType,
			&r.Condition, &threshold, &r.ComparisonOperator, &r.Severity,
			&r.IsEnabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan rule: %v", ErrUnavailable, err)
		}
		if deviceID.Valid {
			v := int(deviceID.Int64)
			r.DeviceID = &v
		}
		if sensorID.Valid {
			v := int(sensorID.Int64)
			r.SensorID = &v
		}
		if threshold.Valid {
			v := threshold.Float64
			r.ThresholdValue = &v
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read rules: %v", ErrUnavailable, err)
	}

	return rules, nil
}

func (p *Postgres) FindActiveAlert(ctx context.Context, ruleID, deviceID int) (*models.Alert, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT alert_id, alert_rule_id, device_id, sensor_id, severity, message,
		       trigger_value, status, triggered_at, acknowledged_at, resolved_at, created_at
		FROM alerts
		WHERE alert_rule_id = $1 AND device_id = $2 AND status = 'Active'
		ORDER BY triggered_at DESC
		LIMIT 1`,
		ruleID, deviceID)

	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find active alert: %v", ErrUnavailable, err)
	}
	return a, nil
}

func (p *Postgres) UpsertAlert(ctx context.Context, a *models.Alert) (*models.Alert, error) {
	if a.AlertID == 0 {
		err := p.db.QueryRowContext(ctx, `
			INSERT INTO alerts (alert_rule_id, device_id, sensor_id, severity, message,
			                    trigger_value, status, triggered_at, acknowledged_at, resolved_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
			RETURNING alert_id, created_at`,
			a.RuleID, a.DeviceID, nullInt(a.SensorID), a.Severity, a.Message,
			nullFloat(a.TriggerValue), string(a.Status), a.TriggeredAt,
			nullTime(a.AcknowledgedAt), nullTime(a.ResolvedAt),
		).Scan(&a.AlertID, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: insert alert: %v", ErrUnavailable, err)
		}
		return a, nil
	}

	_, err := p.db.ExecContext(ctx, `
		UPDATE alerts
		SET severity = $2, message = $3, trigger_value = $4, status = $5,
		    triggered_at = $6, acknowledged_at = $7, resolved_at = $8
		WHERE alert_id = $1`,
		a.AlertID, a.Severity, a.Message, nullFloat(a.TriggerValue), string(a.Status),
		a.TriggeredAt, nullTime(a.AcknowledgedAt), nullTime(a.ResolvedAt))
	if err != nil {
		return nil, fmt.Errorf("%w: update alert: %v", ErrUnavailable, err)
	}
	return a, nil
}

func (p *Postgres) GetAlert(ctx context.Context, alertID int64) (*models.Alert, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT alert_id, alert_rule_id, device_id, sensor_id, severity, message,
		       trigger_value, status, triggered_at, acknowledged_at, resolved_at, created_at
		FROM alerts
		WHERE alert_id = $1`,
		alertID)

	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get alert: %v", ErrUnavailable, err)
	}
	return a, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row scanner) (*models.Alert, error) {
	a := &models.Alert{}
	var sensorID sql.NullInt64
	var triggerValue sql.NullFloat64
	var acknowledgedAt, resolvedAt sql.NullTime
	var status string

	err := row.Scan(&a.AlertID, &a.RuleID, &a.DeviceID, &sensorID, &a.Severity,
		&a.Message, &triggerValue, &status, &a.TriggeredAt,
		&acknowledgedAt, &resolvedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	a.Status = models.AlertStatus(status)
	if sensorID.Valid {
		v := int(sensorID.Int64)
		a.SensorID = &v
	}
	if triggerValue.Valid {
		v := triggerValue.Float64
		a.TriggerValue = &v
	}
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		a.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}

	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
