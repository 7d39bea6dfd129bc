package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotConfigured indicates the store has no database handle.
	ErrNotConfigured = errors.New("storage: database not configured")
)

const unlockTimeout = 2 * time.Second

// Tables lists every table in the order stats and cleanup walk them.
var Tables = []string{
	"spot_prices",
	"premiums",
	"inventory",
	"margins",
	"lease_rates",
	"shanghai_premium",
	"metrics_snapshot",
}

// timeColumn maps each table to the column retention cleanup filters on.
var timeColumn = map[string]string{
	"spot_prices":      "observed_at",
	"premiums":         "observed_at",
	"inventory":        "observed_at",
	"margins":          "observed_at",
	"lease_rates":      "observed_at",
	"shanghai_premium": "observed_at",
	"metrics_snapshot": "taken_at",
}

const (
	insertSpotSQL = `INSERT INTO spot_prices (observed_at, source, price_usd, change_24h, change_pct_24h)
    VALUES (:observed_at, :source, :price_usd, :change_24h, :change_pct_24h)
    RETURNING id`

	insertPremiumSQL = `INSERT INTO premiums (observed_at, source, product_type, spot_price, physical_price, premium_usd, premium_pct)
    VALUES (:observed_at, :source, :product_type, :spot_price, :physical_price, :premium_usd, :premium_pct)
    RETURNING id`

	insertInventorySQL = `INSERT INTO inventory (observed_at, source, registered_oz, eligible_oz, total_oz, daily_change_oz)
    VALUES (:observed_at, :source, :registered_oz, :eligible_oz, :total_oz, :daily_change_oz)
    RETURNING id`

	insertMarginSQL = `INSERT INTO margins (observed_at, source, contract, initial_margin, maintenance_margin, margin_pct)
    VALUES (:observed_at, :source, :contract, :initial_margin, :maintenance_margin, :margin_pct)
    RETURNING id`

	insertLeaseRateSQL = `INSERT INTO lease_rates (observed_at, source, rate_type, rate_pct, tenor)
    VALUES (:observed_at, :source, :rate_type, :rate_pct, :tenor)
    RETURNING id`

	insertShanghaiSQL = `INSERT INTO shanghai_premium (observed_at, source, shanghai_spot, western_spot, premium_usd, premium_pct)
    VALUES (:observed_at, :source, :shanghai_spot, :western_spot, :premium_usd, :premium_pct)
    RETURNING id`

	insertSnapshotSQL = `INSERT INTO metrics_snapshot (
        taken_at, run_id,
        spot_price, premium_pct, inventory_total_moz, inventory_registered_moz,
        margin_initial, margin_days_stable, lease_rate_proxy, shanghai_premium_usd,
        status_premiums, status_inventory, status_margins, status_lease, status_shanghai,
        composite_score, composite_total, composite_status
    ) VALUES (
        :taken_at, :run_id,
        :spot_price, :premium_pct, :inventory_total_moz, :inventory_registered_moz,
        :margin_initial, :margin_days_stable, :lease_rate_proxy, :shanghai_premium_usd,
        :status_premiums, :status_inventory, :status_margins, :status_lease, :status_shanghai,
        :composite_score, :composite_total, :composite_status
    )
    RETURNING id`

	latestSpotSQL      = `SELECT * FROM spot_prices ORDER BY observed_at DESC, id DESC LIMIT 1`
	latestPremiumSQL   = `SELECT * FROM premiums ORDER BY observed_at DESC, id DESC LIMIT 1`
	latestInventorySQL = `SELECT * FROM inventory ORDER BY observed_at DESC, id DESC LIMIT 1`
	latestMarginSQL    = `SELECT * FROM margins ORDER BY observed_at DESC, id DESC LIMIT 1`
	latestLeaseSQL     = `SELECT * FROM lease_rates ORDER BY observed_at DESC, id DESC LIMIT 1`
	latestShanghaiSQL  = `SELECT * FROM shanghai_premium ORDER BY observed_at DESC, id DESC LIMIT 1`
	latestSnapshotSQL  = `SELECT * FROM metrics_snapshot ORDER BY taken_at DESC, id DESC LIMIT 1`

	inventorySinceSQL = `SELECT * FROM inventory
    WHERE observed_at >= ?
    ORDER BY observed_at, id`

	// The most recent row whose initial margin differs from its predecessor.
	// Rows sharing a timestamp are ordered by id, so the highest id wins.
	marginLastChangeSQL = `SELECT observed_at FROM margins WHERE id = (
        SELECT id FROM (
            SELECT id, observed_at, initial_margin,
                   LAG(initial_margin) OVER (ORDER BY observed_at, id) AS prev_margin
            FROM margins
        ) m
        WHERE prev_margin IS NULL OR initial_margin <> prev_margin
        ORDER BY observed_at DESC, id DESC
        LIMIT 1
    )`

	listSnapshotsBetweenSQL = `SELECT * FROM metrics_snapshot
    WHERE taken_at >= ?
      AND taken_at < ?
    ORDER BY taken_at, id`

	listRecentSnapshotsSQL = `SELECT * FROM metrics_snapshot
    ORDER BY taken_at DESC, id DESC
    LIMIT ?`

	// newest rows inside the window, returned oldest first
	recentSinceSQL = `SELECT * FROM (
        SELECT * FROM %s WHERE observed_at >= ? ORDER BY observed_at DESC, id DESC LIMIT ?
    ) recent ORDER BY observed_at, id`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1)`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1)`
)

// ObservationWriter appends raw observations. Every insert returns the new id.
type ObservationWriter interface {
	InsertSpotPrice(ctx context.Context, obs SpotPrice) (int64, error)
	InsertPremium(ctx context.Context, obs Premium) (int64, error)
	InsertInventory(ctx context.Context, obs Inventory) (int64, error)
	InsertMargin(ctx context.Context, obs Margin) (int64, error)
	InsertLeaseRate(ctx context.Context, obs LeaseRate) (int64, error)
	InsertShanghaiPremium(ctx context.Context, obs ShanghaiPremium) (int64, error)
}

// ObservationReader reads the latest observations. A nil result with a nil
// error means no observation exists yet.
type ObservationReader interface {
	LatestSpotPrice(ctx context.Context) (*SpotPrice, error)
	LatestPremium(ctx context.Context) (*Premium, error)
	LatestInventory(ctx context.Context) (*Inventory, error)
	InventorySince(ctx context.Context, since time.Time) ([]Inventory, error)
	LatestMargin(ctx context.Context) (*Margin, error)
	MarginLastChange(ctx context.Context) (*time.Time, error)
	LatestLeaseRate(ctx context.Context) (*LeaseRate, error)
	LatestShanghaiPremium(ctx context.Context) (*ShanghaiPremium, error)
}

// SnapshotStore persists and lists metric snapshots.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap Snapshot) (int64, error)
	LatestSnapshot(ctx context.Context) (*Snapshot, error)
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]Snapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error)
}

// Maintenance covers housekeeping commands.
type Maintenance interface {
	Stats(ctx context.Context) ([]TableStats, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (map[string]int64, error)
}

// HistoryReader lists recent observations for the dashboard export. Each
// call returns at most limit rows observed at or after since, ascending.
type HistoryReader interface {
	SpotPricesSince(ctx context.Context, since time.Time, limit int) ([]SpotPrice, error)
	PremiumsSince(ctx context.Context, since time.Time, limit int) ([]Premium, error)
	InventoryReportsSince(ctx context.Context, since time.Time, limit int) ([]Inventory, error)
	MarginsSince(ctx context.Context, since time.Time, limit int) ([]Margin, error)
}

// AdvisoryLocker exposes the single-writer lock.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store implements every storage interface over sqlx.
type Store struct {
	db    *sqlx.DB
	cycle sync.Mutex
}

// NewStore wraps an open sqlx handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connections.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sqlx.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *Store) getDB() (*sqlx.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

func (s *Store) isPostgres() bool {
	return s.db != nil && s.db.DriverName() == postgresDriverName
}

func (s *Store) insert(ctx context.Context, what, query string, arg any) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	bound, args, err := db.BindNamed(query, arg)
	if err != nil {
		return 0, fmt.Errorf("bind %s: %w", what, err)
	}
	var id int64
	if err := db.QueryRowxContext(ctx, bound, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %s: %w", what, err)
	}
	return id, nil
}

func latest[T any](ctx context.Context, s *Store, what, query string) (*T, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var row T
	if err := db.GetContext(ctx, &row, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest %s: %w", what, err)
	}
	return &row, nil
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// InsertSpotPrice appends a spot quote.
func (s *Store) InsertSpotPrice(ctx context.Context, obs SpotPrice) (int64, error) {
	obs.ObservedAt = utc(obs.ObservedAt)
	return s.insert(ctx, "spot price", insertSpotSQL, obs)
}

// InsertPremium appends a physical premium reading.
func (s *Store) InsertPremium(ctx context.Context, obs Premium) (int64, error) {
	obs.ObservedAt = utc(obs.ObservedAt)
	return s.insert(ctx, "premium", insertPremiumSQL, obs)
}

// InsertInventory appends a warehouse stocks report.
func (s *Store) InsertInventory(ctx context.Context, obs Inventory) (int64, error) {
	obs.ObservedAt = utc(obs.ObservedAt)
	if obs.Source == "" {
		obs.Source = "CME"
	}
	return s.insert(ctx, "inventory", insertInventorySQL, obs)
}

// InsertMargin appends a margin requirement.
func (s *Store) InsertMargin(ctx context.Context, obs Margin) (int64, error) {
	obs.ObservedAt = utc(obs.ObservedAt)
	if obs.Source == "" {
		obs.Source = "CME"
	}
	return s.insert(ctx, "margin", insertMarginSQL, obs)
}

// InsertLeaseRate appends a lease-rate reading.
func (s *Store) InsertLeaseRate(ctx context.Context, obs LeaseRate) (int64, error) {
	obs.ObservedAt = utc(obs.ObservedAt)
	return s.insert(ctx, "lease rate", insertLeaseRateSQL, obs)
}

// InsertShanghaiPremium appends a Shanghai premium reading.
func (s *Store) InsertShanghaiPremium(ctx context.Context, obs ShanghaiPremium) (int64, error) {
	obs.ObservedAt = utc(obs.ObservedAt)
	if obs.Source == "" {
		obs.Source = "SGE"
	}
	return s.insert(ctx, "shanghai premium", insertShanghaiSQL, obs)
}

// InsertSnapshot appends a metrics snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, snap Snapshot) (int64, error) {
	snap.TakenAt = utc(snap.TakenAt)
	return s.insert(ctx, "snapshot", insertSnapshotSQL, snap)
}

// LatestSpotPrice returns the newest spot quote.
func (s *Store) LatestSpotPrice(ctx context.Context) (*SpotPrice, error) {
	return latest[SpotPrice](ctx, s, "spot price", latestSpotSQL)
}

// LatestPremium returns the newest premium reading.
func (s *Store) LatestPremium(ctx context.Context) (*Premium, error) {
	return latest[Premium](ctx, s, "premium", latestPremiumSQL)
}

// LatestInventory returns the newest stocks report.
func (s *Store) LatestInventory(ctx context.Context) (*Inventory, error) {
	return latest[Inventory](ctx, s, "inventory", latestInventorySQL)
}

// LatestMargin returns the newest margin requirement.
func (s *Store) LatestMargin(ctx context.Context) (*Margin, error) {
	return latest[Margin](ctx, s, "margin", latestMarginSQL)
}

// LatestLeaseRate returns the newest lease-rate reading.
func (s *Store) LatestLeaseRate(ctx context.Context) (*LeaseRate, error) {
	return latest[LeaseRate](ctx, s, "lease rate", latestLeaseSQL)
}

// LatestShanghaiPremium returns the newest Shanghai premium reading.
func (s *Store) LatestShanghaiPremium(ctx context.Context) (*ShanghaiPremium, error) {
	return latest[ShanghaiPremium](ctx, s, "shanghai premium", latestShanghaiSQL)
}

// LatestSnapshot returns the newest snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	return latest[Snapshot](ctx, s, "snapshot", latestSnapshotSQL)
}

// InventorySince lists stocks reports at or after since, ascending by time.
func (s *Store) InventorySince(ctx context.Context, since time.Time) ([]Inventory, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows := make([]Inventory, 0)
	if err := db.SelectContext(ctx, &rows, db.Rebind(inventorySinceSQL), utc(since)); err != nil {
		return nil, fmt.Errorf("inventory since: %w", err)
	}
	return rows, nil
}

func recentSince[T any](ctx context.Context, s *Store, table string, since time.Time, limit int) ([]T, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows := make([]T, 0)
	query := db.Rebind(fmt.Sprintf(recentSinceSQL, table))
	if err := db.SelectContext(ctx, &rows, query, utc(since), limit); err != nil {
		return nil, fmt.Errorf("%s since: %w", table, err)
	}
	return rows, nil
}

// SpotPricesSince implements HistoryReader.
func (s *Store) SpotPricesSince(ctx context.Context, since time.Time, limit int) ([]SpotPrice, error) {
	return recentSince[SpotPrice](ctx, s, "spot_prices", since, limit)
}

// PremiumsSince implements HistoryReader.
func (s *Store) PremiumsSince(ctx context.Context, since time.Time, limit int) ([]Premium, error) {
	return recentSince[Premium](ctx, s, "premiums", since, limit)
}

// InventoryReportsSince implements HistoryReader.
func (s *Store) InventoryReportsSince(ctx context.Context, since time.Time, limit int) ([]Inventory, error) {
	return recentSince[Inventory](ctx, s, "inventory", since, limit)
}

// MarginsSince implements HistoryReader.
func (s *Store) MarginsSince(ctx context.Context, since time.Time, limit int) ([]Margin, error) {
	return recentSince[Margin](ctx, s, "margins", since, limit)
}

// MarginLastChange returns when the initial margin last changed value, or
// nil when no margin has been recorded.
func (s *Store) MarginLastChange(ctx context.Context) (*time.Time, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var at time.Time
	if err := db.GetContext(ctx, &at, marginLastChangeSQL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("margin last change: %w", err)
	}
	at = at.UTC()
	return &at, nil
}

// ListSnapshotsBetween lists snapshots in [from, to), ascending.
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]Snapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, 0)
	if err := db.SelectContext(ctx, &snaps, db.Rebind(listSnapshotsBetweenSQL), utc(from), utc(to)); err != nil {
		return nil, fmt.Errorf("list snapshots between: %w", err)
	}
	return snaps, nil
}

// ListRecentSnapshots lists the newest snapshots, newest first.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, 0, limit)
	if err := db.SelectContext(ctx, &snaps, db.Rebind(listRecentSnapshotsSQL), limit); err != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", err)
	}
	return snaps, nil
}

// Stats counts the rows of every table.
func (s *Store) Stats(ctx context.Context) ([]TableStats, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	stats := make([]TableStats, 0, len(Tables))
	for _, table := range Tables {
		var count int64
		if err := db.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats = append(stats, TableStats{Table: table, Rows: count})
	}
	return stats, nil
}

// DeleteBefore removes rows older than cutoff from every table and reports
// how many rows each table lost.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (map[string]int64, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	deleted := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		query := db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, timeColumn[table]))
		res, err := db.ExecContext(ctx, query, utc(cutoff))
		if err != nil {
			return nil, fmt.Errorf("delete from %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected %s: %w", table, err)
		}
		deleted[table] = n
	}
	return deleted, nil
}

var (
	_ HistoryReader     = (*Store)(nil)
	_ ObservationWriter = (*Store)(nil)
	_ ObservationReader = (*Store)(nil)
	_ SnapshotStore     = (*Store)(nil)
	_ Maintenance       = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
