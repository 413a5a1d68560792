package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// accountRepo implements AccountRepository.
type accountRepo struct {
	pool *pgxpool.Pool
}

const accountColumns = `id, user_id, family_id, provider, email, access_token, refresh_token, token_expiry, last_error, last_error_at, created_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.UserID, &a.FamilyID, &a.Provider, &a.Email,
		&a.AccessToken, &a.RefreshToken, &a.TokenExpiry, &a.LastError, &a.LastErrorAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *accountRepo) GetByID(ctx context.Context, id int64) (*Account, error) {
	defer observeDB(ctx, "accounts.get")()
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (r *accountRepo) UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiry time.Time) error {
	defer observeDB(ctx, "accounts.update_tokens")()
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET access_token = $2,
		    refresh_token = COALESCE($3, refresh_token),
		    token_expiry = $4
		WHERE id = $1`, id, accessToken, refreshToken, expiry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepo) SetError(ctx context.Context, id int64, message string, at time.Time) error {
	defer observeDB(ctx, "accounts.set_error")()
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET last_error = $2, last_error_at = $3 WHERE id = $1`, id, message, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepo) ClearError(ctx context.Context, id int64) error {
	defer observeDB(ctx, "accounts.clear_error")()
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET last_error = NULL, last_error_at = NULL WHERE id = $1`, id)
	return err
}

// calendarRepo implements CalendarRepository.
type calendarRepo struct {
	pool *pgxpool.Pool
}

const calendarColumns = `id, account_id, family_id, remote_id, name, color, access_role, sync_enabled, is_private, sync_cursor, last_synced_at, sync_lease_until, created_at`

func scanCalendar(row pgx.Row) (*Calendar, error) {
	var c Calendar
	err := row.Scan(&c.ID, &c.AccountID, &c.FamilyID, &c.RemoteID, &c.Name, &c.Color,
		&c.AccessRole, &c.SyncEnabled, &c.IsPrivate, &c.SyncCursor, &c.LastSyncedAt, &c.SyncLeaseUntil, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCalendars(rows pgx.Rows) ([]Calendar, error) {
	defer rows.Close()
	var out []Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *calendarRepo) GetByID(ctx context.Context, id int64) (*Calendar, error) {
	defer observeDB(ctx, "calendars.get")()
	row := r.pool.QueryRow(ctx, `SELECT `+calendarColumns+` FROM calendars WHERE id = $1`, id)
	return scanCalendar(row)
}

func (r *calendarRepo) ListByFamily(ctx context.Context, familyID int64) ([]Calendar, error) {
	defer observeDB(ctx, "calendars.list_by_family")()
	rows, err := r.pool.Query(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE family_id = $1 ORDER BY id`, familyID)
	if err != nil {
		return nil, err
	}
	return collectCalendars(rows)
}

func (r *calendarRepo) Create(ctx context.Context, cal Calendar) (*Calendar, error) {
	defer observeDB(ctx, "calendars.create")()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO calendars (account_id, family_id, remote_id, name, color, access_role, sync_enabled, is_private)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+calendarColumns,
		cal.AccountID, cal.FamilyID, cal.RemoteID, cal.Name, cal.Color, cal.AccessRole, cal.SyncEnabled, cal.IsPrivate)
	return scanCalendar(row)
}

func (r *calendarRepo) SetCursor(ctx context.Context, id int64, cursor string, syncedAt time.Time) error {
	defer observeDB(ctx, "calendars.set_cursor")()
	tag, err := r.pool.Exec(ctx,
		`UPDATE calendars SET sync_cursor = $2, last_synced_at = $3 WHERE id = $1`, id, cursor, syncedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *calendarRepo) ClearCursor(ctx context.Context, id int64) error {
	defer observeDB(ctx, "calendars.clear_cursor")()
	_, err := r.pool.Exec(ctx, `UPDATE calendars SET sync_cursor = NULL WHERE id = $1`, id)
	return err
}

func (r *calendarRepo) ListNeedingSync(ctx context.Context, cutoff time.Time) ([]Calendar, error) {
	defer observeDB(ctx, "calendars.list_needing_sync")()
	rows, err := r.pool.Query(ctx, `
		SELECT `+calendarColumns+` FROM calendars
		WHERE sync_enabled AND (last_synced_at IS NULL OR last_synced_at < $1)
		ORDER BY last_synced_at NULLS FIRST`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectCalendars(rows)
}

func (r *calendarRepo) TryAcquireSyncLease(ctx context.Context, id int64, until time.Time) (bool, error) {
	defer observeDB(ctx, "calendars.acquire_lease")()
	tag, err := r.pool.Exec(ctx, `
		UPDATE calendars SET sync_lease_until = $2
		WHERE id = $1 AND (sync_lease_until IS NULL OR sync_lease_until < now())`, id, until)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *calendarRepo) ReleaseSyncLease(ctx context.Context, id int64) error {
	defer observeDB(ctx, "calendars.release_lease")()
	_, err := r.pool.Exec(ctx, `UPDATE calendars SET sync_lease_until = NULL WHERE id = $1`, id)
	return err
}

// channelRepo implements ChannelRepository.
type channelRepo struct {
	pool *pgxpool.Pool
}

const channelColumns = `id, calendar_id, resource_id, token, expires_at, created_at`

func scanChannel(row pgx.Row) (*Channel, error) {
	var ch Channel
	err := row.Scan(&ch.ID, &ch.CalendarID, &ch.ResourceID, &ch.Token, &ch.ExpiresAt, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *channelRepo) GetByID(ctx context.Context, id string) (*Channel, error) {
	defer observeDB(ctx, "channels.get")()
	row := r.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
	return scanChannel(row)
}

func (r *channelRepo) GetByCalendar(ctx context.Context, calendarID int64) (*Channel, error) {
	defer observeDB(ctx, "channels.get_by_calendar")()
	row := r.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE calendar_id = $1`, calendarID)
	return scanChannel(row)
}

func (r *channelRepo) Create(ctx context.Context, ch Channel) (*Channel, error) {
	defer observeDB(ctx, "channels.create")()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO channels (id, calendar_id, resource_id, token, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+channelColumns,
		ch.ID, ch.CalendarID, ch.ResourceID, ch.Token, ch.ExpiresAt)
	return scanChannel(row)
}

func (r *channelRepo) Delete(ctx context.Context, id string) error {
	defer observeDB(ctx, "channels.delete")()
	_, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	return err
}

func (r *channelRepo) ListExpiringBefore(ctx context.Context, t time.Time) ([]Channel, error) {
	defer observeDB(ctx, "channels.list_expiring")()
	rows, err := r.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE expires_at < $1 ORDER BY expires_at`, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// eventRepo implements EventRepository.
type eventRepo struct {
	pool *pgxpool.Pool
}

const eventColumns = `id, family_id, title, description, location, starts_at, ends_at, all_day, color, calendar_id, remote_id, remote_updated_at, sync_status, created_at, updated_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.FamilyID, &e.Title, &e.Description, &e.Location,
		&e.StartsAt, &e.EndsAt, &e.AllDay, &e.Color, &e.CalendarID, &e.RemoteID,
		&e.RemoteUpdatedAt, &e.SyncStatus, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *eventRepo) GetByID(ctx context.Context, id int64) (*Event, error) {
	defer observeDB(ctx, "events.get")()
	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

func (r *eventRepo) UpsertRemote(ctx context.Context, ev Event) (bool, error) {
	defer observeDB(ctx, "events.upsert_remote")()
	// xmax = 0 distinguishes a fresh insert from a conflict update.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO events (family_id, title, description, location, starts_at, ends_at, all_day, color, calendar_id, remote_id, remote_updated_at, sync_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (calendar_id, remote_id) WHERE calendar_id IS NOT NULL AND remote_id IS NOT NULL
		DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			location = EXCLUDED.location,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			all_day = EXCLUDED.all_day,
			color = EXCLUDED.color,
			remote_updated_at = EXCLUDED.remote_updated_at,
			sync_status = EXCLUDED.sync_status,
			updated_at = now()
		RETURNING (xmax = 0)`,
		ev.FamilyID, ev.Title, ev.Description, ev.Location, ev.StartsAt, ev.EndsAt,
		ev.AllDay, ev.Color, ev.CalendarID, ev.RemoteID, ev.RemoteUpdatedAt, ev.SyncStatus)
	var created bool
	if err := row.Scan(&created); err != nil {
		return false, err
	}
	return created, nil
}

func (r *eventRepo) DeleteByRemoteID(ctx context.Context, calendarID int64, remoteID string) error {
	defer observeDB(ctx, "events.delete_by_remote")()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM events WHERE calendar_id = $1 AND remote_id = $2`, calendarID, remoteID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *eventRepo) ListForFamily(ctx context.Context, familyID int64, from, to time.Time) ([]Event, error) {
	defer observeDB(ctx, "events.list_for_family")()
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE family_id = $1 AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at, id`, familyID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *eventRepo) Create(ctx context.Context, ev Event) (*Event, error) {
	defer observeDB(ctx, "events.create")()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO events (family_id, title, description, location, starts_at, ends_at, all_day, color, calendar_id, remote_id, remote_updated_at, sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+eventColumns,
		ev.FamilyID, ev.Title, ev.Description, ev.Location, ev.StartsAt, ev.EndsAt,
		ev.AllDay, ev.Color, ev.CalendarID, ev.RemoteID, ev.RemoteUpdatedAt, ev.SyncStatus)
	return scanEvent(row)
}

func (r *eventRepo) Update(ctx context.Context, ev Event) error {
	defer observeDB(ctx, "events.update")()
	tag, err := r.pool.Exec(ctx, `
		UPDATE events
		SET title = $2, description = $3, location = $4, starts_at = $5, ends_at = $6,
		    all_day = $7, color = $8, remote_id = $9, remote_updated_at = $10,
		    sync_status = $11, updated_at = now()
		WHERE id = $1`,
		ev.ID, ev.Title, ev.Description, ev.Location, ev.StartsAt, ev.EndsAt,
		ev.AllDay, ev.Color, ev.RemoteID, ev.RemoteUpdatedAt, ev.SyncStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *eventRepo) Delete(ctx context.Context, id int64) error {
	defer observeDB(ctx, "events.delete")()
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
