package postgres

import (
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	_ "github.com/lib/pq"
)

const (
	createTableStmt = `CREATE TABLE IF NOT EXISTS lock_events(device_id text, state text, battery integer, transport text, timestamp text, version text);`
	limit           = 100
)

type Client struct {
	sqlDB *sql.DB
}

func NewPostgresClient(databaseURL string) (Client, error) {
	postgresClient := Client{}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return postgresClient, err
	}
	postgresClient.sqlDB = db

	_, err = db.Exec(createTableStmt)
	if err != nil {
		return postgresClient, fmt.Errorf("creating lock_events table: %w", err)
	}
	return postgresClient, nil
}

func (c *Client) WriteLockEvent(s config.LockStatus) error {
	stmt := "INSERT INTO lock_events(device_id, state, battery, transport, timestamp, version) VALUES($1, $2, $3, $4, $5, $6)"
	var battery sql.NullInt64
	if s.Battery != nil {
		battery = sql.NullInt64{Int64: int64(*s.Battery), Valid: true}
	}
	_, err := c.sqlDB.Exec(stmt, s.DeviceID, string(s.State), battery, s.Transport, s.Timestamp, s.Version)
	return err
}

// GetLockEvents returns one page of history, newest first, along with the
// number of pages. deviceID "all" selects every lock.
func (c *Client) GetLockEvents(deviceID string, page int) ([]config.LockStatus, int, error) {
	if page < 1 {
		page = 1
	}
	offset := limit * (page - 1)

	var rows *sql.Rows
	var countRow *sql.Row
	var err error
	numPages := 0
	if strings.ToLower(deviceID) == "all" {
		stmt := "SELECT device_id, state, battery, transport, timestamp, version FROM lock_events ORDER by timestamp DESC LIMIT $1 OFFSET $2"
		rows, err = c.sqlDB.Query(stmt, limit, offset)

		countRow = c.sqlDB.QueryRow("SELECT COUNT(*) FROM lock_events")
	} else {
		stmt := "SELECT device_id, state, battery, transport, timestamp, version FROM lock_events WHERE device_id = $1 ORDER by timestamp DESC LIMIT $2 OFFSET $3"
		rows, err = c.sqlDB.Query(stmt, deviceID, limit, offset)

		countRow = c.sqlDB.QueryRow("SELECT COUNT(*) FROM lock_events WHERE device_id = $1", deviceID)
	}
	if err != nil {
		return nil, numPages, err
	}
	defer rows.Close()

	var count int
	if err := countRow.Scan(&count); err != nil {
		return nil, numPages, err
	}
	numPages = int(math.Ceil(float64(count) / float64(limit)))

	events, err := scanEvents(rows)
	return events, numPages, err
}

// GetAllRows is used for full backups.
func (c *Client) GetAllRows() ([]config.LockStatus, error) {
	rows, err := c.sqlDB.Query("SELECT device_id, state, battery, transport, timestamp, version FROM lock_events ORDER by timestamp ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]config.LockStatus, error) {
	var events []config.LockStatus
	for rows.Next() {
		var m config.LockStatus
		var state string
		var battery sql.NullInt64
		if err := rows.Scan(&m.DeviceID, &state, &battery, &m.Transport, &m.Timestamp, &m.Version); err != nil {
			return nil, err
		}
		m.State = config.LockState(state)
		if battery.Valid {
			b := int(battery.Int64)
			m.Battery = &b
		}
		events = append(events, m)
	}
	return events, rows.Err()
}
