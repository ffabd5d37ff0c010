package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/drivana/sales-agent/internal/agent/model"
	"github.com/drivana/sales-agent/internal/core/errx"
	logx "github.com/drivana/sales-agent/pkg/logger"
)

// SQLStore runs catalog filters against a database/sql pool. Connections are
// checked out per query and released on every exit path; nothing is held
// across turns.
type SQLStore struct {
	db      *sql.DB
	timeout time.Duration
}

var _ Store = (*SQLStore)(nil)

// Open connects the catalog store and verifies the connection.
func Open(cfg model.CatalogConfig) (*SQLStore, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog db: %w", err)
	}

	timeout := time.Duration(cfg.QueryTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SQLStore{db: db, timeout: timeout}, nil
}

// NewSQLStore wraps an existing pool, mostly for tests.
func NewSQLStore(db *sql.DB, timeout time.Duration) *SQLStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SQLStore{db: db, timeout: timeout}
}

// Close releases the pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Search implements Store. Data-layer faults come back wrapped so callers
// can turn them into a generic "try again" reply without leaking detail.
func (s *SQLStore) Search(ctx context.Context, criteria model.SearchCriteria, limit int) ([]model.Vehicle, error) {
	query, args := BuildFilter(criteria, limit)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logx.Error().Err(err).Str("query", query).Msg("catalog query failed")
		return nil, errx.WrapCatalog(err)
	}
	defer rows.Close()

	var out []model.Vehicle
	for rows.Next() {
		var (
			v         model.Vehicle
			version   sql.NullString
			mileage   sql.NullInt64
			length    sql.NullFloat64
			width     sql.NullFloat64
			height    sql.NullFloat64
			bluetooth sql.NullString
			carPlay   sql.NullString
		)
		if err := rows.Scan(
			&v.StockID, &v.Brand, &v.Model, &v.Year, &version, &v.Price,
			&mileage, &length, &width, &height, &bluetooth, &carPlay,
		); err != nil {
			logx.Error().Err(err).Msg("catalog row scan failed")
			return nil, errx.WrapCatalog(err)
		}
		v.Version = version.String
		v.Mileage = int(mileage.Int64)
		v.Length = length.Float64
		v.Width = width.Float64
		v.Height = height.Float64
		v.Bluetooth = bluetooth.String
		v.CarPlay = carPlay.String
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		logx.Error().Err(err).Msg("catalog rows iteration failed")
		return nil, errx.WrapCatalog(err)
	}
	return out, nil
}

// Schema is the inventory table layout the store expects. Exposed so local
// bootstrap and tests can create it.
const Schema = `
CREATE TABLE IF NOT EXISTS cars (
	stock_id  TEXT PRIMARY KEY,
	brand     TEXT NOT NULL,
	model     TEXT NOT NULL,
	year      INTEGER NOT NULL,
	version   TEXT,
	price     REAL NOT NULL,
	mileage   INTEGER,
	length    REAL,
	width     REAL,
	height    REAL,
	bluetooth TEXT,
	car_play  TEXT
);`
