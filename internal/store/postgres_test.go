package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iotmon/internal/models"
)

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Postgres) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresFromDB(db)
}

func TestDeviceExists(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM devices`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := st.DeviceExists(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceExistsQueryError(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM devices`).
		WithArgs(7).
		WillReturnError(sql.ErrConnDone)

	_, err := st.DeviceExists(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAppendReading(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	created := ts.Add(time.Second)

	mock.ExpectQuery(`INSERT INTO sensor_readings`).
		WithArgs(7, 12, 23.5, ts, sql.NullString{String: "Normal", Valid: true}, sql.NullString{String: "Good", Valid: true}).
		WillReturnRows(sqlmock.NewRows([]string{"reading_id", "created_at"}).AddRow(int64(101), created))

	r, err := st.AppendReading(context.Background(), &models.CandidateReading{
		DeviceID:  7,
		SensorID:  12,
		Value:     23.5,
		Timestamp: ts,
		Status:    "Normal",
		Quality:   "Good",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(101), r.ReadingID)
	assert.Equal(t, 7, r.DeviceID)
	assert.Equal(t, created, r.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendReadingsBatch(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"reading_id", "created_at"}).
		AddRow(int64(1), ts).
		AddRow(int64(2), ts)

	mock.ExpectQuery(`INSERT INTO sensor_readings .* RETURNING reading_id, created_at`).
		WillReturnRows(rows)

	batch := []*models.CandidateReading{
		{DeviceID: 7, SensorID: 12, Value: 1, Timestamp: ts},
		{DeviceID: 7, SensorID: 12, Value: 2, Timestamp: ts},
	}

	readings, err := st.AppendReadings(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, int64(1), readings[0].ReadingID)
	assert.Equal(t, int64(2), readings[1].ReadingID)
	assert.Equal(t, float64(1), readings[0].Value)
	assert.Equal(t, float64(2), readings[1].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendReadingsEmptyBatch(t *testing.T) {
	db, _, st := setupMockStore(t)
	defer db.Close()

	readings, err := st.AppendReadings(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, readings)
}

func TestTouchDeviceLastSeen(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE devices SET last_seen_at`).
		WithArgs(7, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.TouchDeviceLastSeen(context.Background(), 7, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnabledRules(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"alert_rule_id", "device_id", "sensor_id", "rule_name", "rule_type", "condition",
		"threshold_value", "comparison_operator", "severity", "is_enabled", "created_at", "updated_at",
	}).
		AddRow(1, nil, nil, "global overheat", "threshold", "temp high", 30.0, ">", "High", true, now, now).
		AddRow(2, 7, 12, "scoped", "threshold", "temp low", 5.0, "<", "Low", true, now, now)

	mock.ExpectQuery(`SELECT alert_rule_id, device_id, sensor_id`).
		WillReturnRows(rows)

	rules, err := st.EnabledRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Nil(t, rules[0].DeviceID)
	assert.Nil(t, rules[0].SensorID)
	require.NotNil(t, rules[0].ThresholdValue)
	assert.Equal(t, 30.0, *rules[0].ThresholdValue)

	require.NotNil(t, rules[1].DeviceID)
	assert.Equal(t, 7, *rules[1].DeviceID)
	require.NotNil(t, rules[1].SensorID)
	assert.Equal(t, 12, *rules[1].SensorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveAlert(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"alert_id", "alert_rule_id", "device_id", "sensor_id", "severity", "message",
		"trigger_value", "status", "triggered_at", "acknowledged_at", "resolved_at", "created_at",
	}).AddRow(int64(5), 1, 7, 12, "High", "temp high", 35.0, "Active", now, nil, nil, now)

	mock.ExpectQuery(`FROM alerts`).
		WithArgs(1, 7).
		WillReturnRows(rows)

	a, err := st.FindActiveAlert(context.Background(), 1, 7)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, int64(5), a.AlertID)
	assert.Equal(t, models.AlertActive, a.Status)
	require.NotNil(t, a.TriggerValue)
	assert.Equal(t, 35.0, *a.TriggerValue)
	assert.Nil(t, a.AcknowledgedAt)
}

func TestFindActiveAlertNone(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`FROM alerts`).
		WithArgs(1, 7).
		WillReturnRows(sqlmock.NewRows([]string{
			"alert_id", "alert_rule_id", "device_id", "sensor_id", "severity", "message",
			"trigger_value", "status", "triggered_at", "acknowledged_at", "resolved_at", "created_at",
		}))

	a, err := st.FindActiveAlert(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestUpsertAlertInsert(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	now := time.Now().UTC()
	trigger := 35.0
	sensorID := 12

	mock.ExpectQuery(`INSERT INTO alerts`).
		WillReturnRows(sqlmock.NewRows([]string{"alert_id", "created_at"}).AddRow(int64(9), now))

	a, err := st.UpsertAlert(context.Background(), &models.Alert{
		RuleID:       1,
		DeviceID:     7,
		SensorID:     &sensorID,
		Severity:     "High",
		Message:      "temp high",
		TriggerValue: &trigger,
		Status:       models.AlertActive,
		TriggeredAt:  now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), a.AlertID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAlertUpdate(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	a, err := st.UpsertAlert(context.Background(), &models.Alert{
		AlertID:     9,
		RuleID:      1,
		DeviceID:    7,
		Status:      models.AlertResolved,
		TriggeredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), a.AlertID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlertNotFound(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`FROM alerts`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{
			"alert_id", "alert_rule_id", "device_id", "sensor_id", "severity", "message",
			"trigger_value", "status", "triggered_at", "acknowledged_at", "resolved_at", "created_at",
		}))

	_, err := st.GetAlert(context.Background(), 404)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}
