package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	fetchActiveListingsSQL = `SELECT
        source,
        external_id,
        title,
        url,
        model_key,
        COALESCE(price_current, 0) AS price_current,
        COALESCE(bids_count, 0) AS bids_count,
        end_time,
        time_left_s,
        status
    FROM listings
    WHERE LOWER(status) IN ('active','live','open','ending_soon')
      AND price_current IS NOT NULL;`

	fetchEndingSoonSQL = `SELECT
        source,
        external_id,
        title,
        url,
        model_key,
        COALESCE(price_current, 0) AS price_current,
        COALESCE(bids_count, 0) AS bids_count,
        end_time,
        time_left_s,
        status
    FROM listings
    WHERE LOWER(status) IN ('active','live','open','ending_soon')
      AND price_current IS NOT NULL
      AND end_time IS NOT NULL
      AND end_time <= now() + make_interval(secs => $1);`

	updateListingEstimateSQL = `UPDATE listings
    SET roi_estimate = $1, max_bid = $2
    WHERE external_id = $3;`

	latestCompComputedAtSQL = `SELECT MAX(computed_at) FROM comps;`

	truncateCompsSQL = `TRUNCATE TABLE comps;`

	rebuildCompsSQL = `INSERT INTO comps (model_key, median_final_price, mean_final_price, samples, computed_at)
    SELECT
        model_key,
        PERCENTILE_CONT(0.5) WITHIN GROUP (
            ORDER BY COALESCE(final_price, price_current)
        )::numeric AS median_final_price,
        AVG(COALESCE(final_price, price_current))::numeric AS mean_final_price,
        COUNT(*)::int AS samples,
        (now() AT TIME ZONE 'utc') AS computed_at
    FROM listings
    WHERE status IN ('sold', 'ended')
      AND COALESCE(final_price, price_current) IS NOT NULL
      AND end_time >= (now() - make_interval(days => $1))
      AND model_key IS NOT NULL
      AND LOWER(model_key) <> 'unknown'
    GROUP BY model_key;`

	pruneCompsSQL = `WITH ranked AS (
      SELECT model_key, computed_at,
             ROW_NUMBER() OVER (
                 PARTITION BY model_key
                 ORDER BY computed_at DESC
             ) AS rn
      FROM comps
    )
    DELETE FROM comps c
    USING ranked r
    WHERE c.model_key = r.model_key
      AND c.computed_at = r.computed_at
      AND r.rn > $1;`

	latestCompsSQL = `SELECT
        model_key,
        median_final_price,
        mean_final_price,
        samples,
        computed_at
    FROM latest_comps;`

	markerCreatedAtSQL = `SELECT created_at
    FROM roi_alert_markers
    WHERE external_id = $1 AND marker = $2
    LIMIT 1;`

	upsertMarkerSQL = `INSERT INTO roi_alert_markers (external_id, marker, created_at)
    VALUES ($1, $2, (now() AT TIME ZONE 'utc'))
    ON CONFLICT (external_id, marker) DO UPDATE
        SET created_at = EXCLUDED.created_at;`

	insertRoiSnapshotSQL = `INSERT INTO roi_snapshots (
        external_id,
        source,
        model_key,
        current_price,
        roi_estimate,
        profit_estimate,
        ends_at,
        time_left_s
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	listSnapshotsSQL = `SELECT
        external_id,
        source,
        model_key,
        current_price,
        roi_estimate,
        profit_estimate,
        ends_at,
        time_left_s,
        created_at
    FROM roi_snapshots
    WHERE external_id = $1
      AND created_at >= $2
      AND created_at < $3
    ORDER BY created_at;`

	upsertAlertSQL = `INSERT INTO alerts (external_id, score, max_bid, created_at, updated_at)
    VALUES ($1, $2, $3, (now() AT TIME ZONE 'utc'), (now() AT TIME ZONE 'utc'))
    ON CONFLICT (external_id) DO UPDATE
        SET score = EXCLUDED.score,
            max_bid = EXCLUDED.max_bid,
            updated_at = (now() AT TIME ZONE 'utc')
    RETURNING id, (xmax = 0) AS inserted;`

	markAlertSentSQL = `UPDATE alerts
    SET sent_at = (now() AT TIME ZONE 'utc')
    WHERE id = $1;`

	topLiveAlertsSQL = `SELECT
        a.external_id,
        a.score,
        a.max_bid,
        a.created_at,
        l.title,
        l.url,
        COALESCE(l.price_current, 0),
        l.model_key,
        l.end_time,
        l.time_left_s,
        l.status
    FROM alerts a
    JOIN listings l
      ON l.external_id = a.external_id
    WHERE a.score IS NOT NULL
      AND LOWER(l.status) IN ('active','live','open','ending_soon')
      AND (l.time_left_s IS NULL OR l.time_left_s > 0)
      AND l.model_key IS NOT NULL
      AND LOWER(l.model_key) <> 'unknown'
    ORDER BY a.score DESC, a.created_at DESC
    LIMIT $1;`

	alertLastSentSQL = `SELECT last_sent_at FROM alert_state WHERE name = $1;`

	setAlertLastSentSQL = `INSERT INTO alert_state (name, last_sent_at)
    VALUES ($1, $2)
    ON CONFLICT (name)
    DO UPDATE SET last_sent_at = EXCLUDED.last_sent_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ListingStore reads upstream listing rows and writes back estimates.
type ListingStore interface {
	FetchActiveListings(ctx context.Context) ([]Listing, error)
	FetchEndingSoon(ctx context.Context, window time.Duration) ([]Listing, error)
	UpdateEstimates(ctx context.Context, estimates []ListingEstimate) error
}

// CompStore owns the comparables snapshot table.
type CompStore interface {
	LatestCompComputedAt(ctx context.Context) (*time.Time, error)
	RebuildComps(ctx context.Context, windowDays, keepPerKey int) (int64, error)
	LatestComps(ctx context.Context) (map[string]Comp, error)
}

// MarkerStore owns per-listing idempotency markers and the snapshot log.
type MarkerStore interface {
	MarkerCreatedAt(ctx context.Context, externalID, marker string) (*time.Time, error)
	CommitOpportunityTick(ctx context.Context, snap RoiSnapshot, markers []string) error
}

// SnapshotReader reads the roi snapshot history for export.
type SnapshotReader interface {
	ListSnapshots(ctx context.Context, externalID string, from, to time.Time) ([]RoiSnapshot, error)
}

// AlertStore is the shared "upsert by external_id" capability used by both
// the ROI shortlist and the hot radar.
type AlertStore interface {
	UpsertAlert(ctx context.Context, externalID string, score, maxBid decimal.Decimal) (AlertUpsert, error)
	MarkAlertSent(ctx context.Context, id int64) error
	TopLiveAlerts(ctx context.Context, limit int) ([]AlertListingRow, error)
}

// AlertStateStore tracks durable last-sent watermarks by name.
type AlertStateStore interface {
	AlertLastSent(ctx context.Context, name string) (*time.Time, error)
	SetAlertLastSent(ctx context.Context, name string, when time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to all owned tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// FetchActiveListings returns evaluation-eligible listing rows.
func (s *Store) FetchActiveListings(ctx context.Context) ([]Listing, error) {
	return s.queryListings(ctx, fetchActiveListingsSQL)
}

// FetchEndingSoon returns live listings whose end_time falls within the window.
func (s *Store) FetchEndingSoon(ctx context.Context, window time.Duration) ([]Listing, error) {
	return s.queryListings(ctx, fetchEndingSoonSQL, window.Seconds())
}

func (s *Store) queryListings(ctx context.Context, query string, args ...any) ([]Listing, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query listings: %w", queryErr)
	}
	defer rows.Close()

	listings := make([]Listing, 0)
	for rows.Next() {
		listing, scanErr := scanListing(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		listings = append(listings, listing)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return listings, nil
}

// UpdateEstimates writes roi_estimate/max_bid back onto listing rows in one batch.
func (s *Store) UpdateEstimates(ctx context.Context, estimates []ListingEstimate) error {
	if len(estimates) == 0 {
		return nil
	}

	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, est := range estimates {
		batch.Queue(updateListingEstimateSQL, est.Roi.String(), est.MaxBid.String(), est.ExternalID)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range estimates {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("update listing estimates: %w", execErr)
		}
	}
	return nil
}

// LatestCompComputedAt returns the newest computed_at across all comps, or nil.
func (s *Store) LatestCompComputedAt(ctx context.Context) (*time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var computedAt sql.NullTime
	if scanErr := pool.QueryRow(ctx, latestCompComputedAtSQL).Scan(&computedAt); scanErr != nil {
		return nil, fmt.Errorf("latest comp computed_at: %w", scanErr)
	}
	if !computedAt.Valid {
		return nil, nil
	}
	value := computedAt.Time
	return &value, nil
}

// RebuildComps replaces the comps table from listing history in a single
// transaction. A failure rolls everything back so the previous snapshot
// stays authoritative.
func (s *Store) RebuildComps(ctx context.Context, windowDays, keepPerKey int) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin comps rebuild: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, execErr := tx.Exec(ctx, truncateCompsSQL); execErr != nil {
		return 0, fmt.Errorf("truncate comps: %w", execErr)
	}

	cmdTag, execErr := tx.Exec(ctx, rebuildCompsSQL, windowDays)
	if execErr != nil {
		return 0, fmt.Errorf("rebuild comps: %w", execErr)
	}

	if _, execErr := tx.Exec(ctx, pruneCompsSQL, keepPerKey); execErr != nil {
		return 0, fmt.Errorf("prune comps: %w", execErr)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return 0, fmt.Errorf("commit comps rebuild: %w", commitErr)
	}
	return cmdTag.RowsAffected(), nil
}

// LatestComps loads the newest comp per model_key.
func (s *Store) LatestComps(ctx context.Context) (map[string]Comp, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestCompsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("latest comps: %w", queryErr)
	}
	defer rows.Close()

	comps := make(map[string]Comp)
	for rows.Next() {
		var (
			comp      Comp
			medianStr string
			meanStr   string
		)
		if err := rows.Scan(&comp.ModelKey, &medianStr, &meanStr, &comp.Samples, &comp.ComputedAt); err != nil {
			return nil, err
		}

		var convErr error
		comp.MedianFinalPrice, convErr = decimal.NewFromString(medianStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse median price: %w", convErr)
		}
		comp.MeanFinalPrice, convErr = decimal.NewFromString(meanStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse mean price: %w", convErr)
		}

		comps[comp.ModelKey] = comp
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return comps, nil
}

// MarkerCreatedAt returns when a marker was last written, or nil if absent.
func (s *Store) MarkerCreatedAt(ctx context.Context, externalID, marker string) (*time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var createdAt time.Time
	scanErr := pool.QueryRow(ctx, markerCreatedAtSQL, externalID, marker).Scan(&createdAt)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("marker created_at: %w", scanErr)
	}
	return &createdAt, nil
}

// CommitOpportunityTick persists one opportunity's snapshot plus any fired
// markers atomically. Markers already committed by earlier items survive a
// later item's failure.
func (s *Store) CommitOpportunityTick(ctx context.Context, snap RoiSnapshot, markers []string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin opportunity tick: %w", err)
	}
	defer tx.Rollback(ctx)

	var modelKey any
	if snap.ModelKey != nil {
		modelKey = *snap.ModelKey
	}
	var endsAt any
	if snap.EndsAt != nil {
		endsAt = snap.EndsAt.UTC()
	}
	var timeLeft any
	if snap.TimeLeftS != nil {
		timeLeft = *snap.TimeLeftS
	}

	if _, execErr := tx.Exec(ctx, insertRoiSnapshotSQL,
		snap.ExternalID,
		snap.Source,
		modelKey,
		snap.CurrentPrice.String(),
		snap.RoiEstimate.String(),
		snap.ProfitEstimate.String(),
		endsAt,
		timeLeft,
	); execErr != nil {
		return fmt.Errorf("insert roi snapshot: %w", execErr)
	}

	for _, marker := range markers {
		if _, execErr := tx.Exec(ctx, upsertMarkerSQL, snap.ExternalID, marker); execErr != nil {
			return fmt.Errorf("upsert marker %s: %w", marker, execErr)
		}
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return fmt.Errorf("commit opportunity tick: %w", commitErr)
	}
	return nil
}

// ListSnapshots returns the roi snapshot history for one listing.
func (s *Store) ListSnapshots(ctx context.Context, externalID string, from, to time.Time) ([]RoiSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsSQL, externalID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]RoiSnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// UpsertAlert inserts or refreshes the shared alert row for a listing.
// created_at and sent_at are preserved on update; CreatedNow reports
// whether this call inserted the row.
func (s *Store) UpsertAlert(ctx context.Context, externalID string, score, maxBid decimal.Decimal) (AlertUpsert, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertUpsert{}, err
	}

	var result AlertUpsert
	scanErr := pool.QueryRow(ctx, upsertAlertSQL,
		externalID,
		score.InexactFloat64(),
		maxBid.String(),
	).Scan(&result.ID, &result.CreatedNow)
	if scanErr != nil {
		return AlertUpsert{}, fmt.Errorf("upsert alert: %w", scanErr)
	}
	return result, nil
}

// MarkAlertSent stamps sent_at after a successful notification.
func (s *Store) MarkAlertSent(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markAlertSentSQL, id)
	if execErr != nil {
		return fmt.Errorf("mark alert sent: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// TopLiveAlerts joins the highest scored alerts to their live listings.
func (s *Store) TopLiveAlerts(ctx context.Context, limit int) ([]AlertListingRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, topLiveAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("top live alerts: %w", queryErr)
	}
	defer rows.Close()

	out := make([]AlertListingRow, 0, limit)
	for rows.Next() {
		var (
			row       AlertListingRow
			score     float64
			maxBidStr string
			priceStr  string
			modelKey  sql.NullString
			endTime   sql.NullTime
			timeLeft  sql.NullInt64
		)
		if err := rows.Scan(
			&row.ExternalID,
			&score,
			&maxBidStr,
			&row.CreatedAt,
			&row.Title,
			&row.URL,
			&priceStr,
			&modelKey,
			&endTime,
			&timeLeft,
			&row.Status,
		); err != nil {
			return nil, err
		}

		row.Score = decimal.NewFromFloat(score)

		var convErr error
		row.MaxBid, convErr = decimal.NewFromString(maxBidStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse max bid: %w", convErr)
		}
		row.PriceCurrent, convErr = decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}

		if modelKey.Valid {
			value := modelKey.String
			row.ModelKey = &value
		}
		if endTime.Valid {
			value := endTime.Time
			row.EndTime = &value
		}
		if timeLeft.Valid {
			value := int(timeLeft.Int64)
			row.TimeLeftS = &value
		}

		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// AlertLastSent returns the watermark for a named alert, or nil if unset.
func (s *Store) AlertLastSent(ctx context.Context, name string) (*time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var lastSent time.Time
	scanErr := pool.QueryRow(ctx, alertLastSentSQL, name).Scan(&lastSent)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("alert last sent: %w", scanErr)
	}
	return &lastSent, nil
}

// SetAlertLastSent advances the watermark for a named alert.
func (s *Store) SetAlertLastSent(ctx context.Context, name string, when time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setAlertLastSentSQL, name, when.UTC()); execErr != nil {
		return fmt.Errorf("set alert last sent: %w", execErr)
	}
	return nil
}

func scanListing(rows pgx.Rows) (Listing, error) {
	var (
		listing  Listing
		modelKey sql.NullString
		priceStr string
		endTime  sql.NullTime
		timeLeft sql.NullInt64
	)

	if err := rows.Scan(
		&listing.Source,
		&listing.ExternalID,
		&listing.Title,
		&listing.URL,
		&modelKey,
		&priceStr,
		&listing.BidsCount,
		&endTime,
		&timeLeft,
		&listing.Status,
	); err != nil {
		return Listing{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Listing{}, fmt.Errorf("parse price_current: %w", err)
	}
	listing.PriceCurrent = price

	if modelKey.Valid {
		value := modelKey.String
		listing.ModelKey = &value
	}
	if endTime.Valid {
		value := endTime.Time
		listing.EndTime = &value
	}
	if timeLeft.Valid {
		value := int(timeLeft.Int64)
		listing.TimeLeftS = &value
	}

	return listing, nil
}

func scanSnapshot(rows pgx.Rows) (RoiSnapshot, error) {
	var (
		snap      RoiSnapshot
		modelKey  sql.NullString
		priceStr  string
		roiStr    string
		profitStr string
		endsAt    sql.NullTime
		timeLeft  sql.NullInt64
	)

	if err := rows.Scan(
		&snap.ExternalID,
		&snap.Source,
		&modelKey,
		&priceStr,
		&roiStr,
		&profitStr,
		&endsAt,
		&timeLeft,
		&snap.CreatedAt,
	); err != nil {
		return RoiSnapshot{}, err
	}

	var convErr error
	snap.CurrentPrice, convErr = decimal.NewFromString(priceStr)
	if convErr != nil {
		return RoiSnapshot{}, fmt.Errorf("parse current price: %w", convErr)
	}
	snap.RoiEstimate, convErr = decimal.NewFromString(roiStr)
	if convErr != nil {
		return RoiSnapshot{}, fmt.Errorf("parse roi estimate: %w", convErr)
	}
	snap.ProfitEstimate, convErr = decimal.NewFromString(profitStr)
	if convErr != nil {
		return RoiSnapshot{}, fmt.Errorf("parse profit estimate: %w", convErr)
	}

	if modelKey.Valid {
		value := modelKey.String
		snap.ModelKey = &value
	}
	if endsAt.Valid {
		value := endsAt.Time
		snap.EndsAt = &value
	}
	if timeLeft.Valid {
		value := int(timeLeft.Int64)
		snap.TimeLeftS = &value
	}

	return snap, nil
}
