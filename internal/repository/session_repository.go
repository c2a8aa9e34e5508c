package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"boatmarket/internal/database"
	"boatmarket/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

const sessionColumns = `id, user_id, device_id, device_name, refresh_token_hash, ip_address, user_agent, created_at, last_seen_at, expires_at`

type SessionRepository struct {
	db database.DB
}

func NewSessionRepository(db database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create upserts on (user_id, device_id) so a device holds one session.
func (r *SessionRepository) Create(ctx context.Context, session models.Session) error {
	const query = `
		INSERT INTO user_sessions (
			id, user_id, device_id, device_name, refresh_token_hash, ip_address, user_agent, created_at, last_seen_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), $8
		)
		ON CONFLICT (user_id, device_id)
		DO UPDATE SET
			id = EXCLUDED.id,
			refresh_token_hash = EXCLUDED.refresh_token_hash,
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent,
			last_seen_at = NOW(),
			expires_at = EXCLUDED.expires_at
	`

	_, err := database.Conn(ctx, r.db).Exec(ctx, query,
		session.ID,
		session.UserID,
		session.DeviceID,
		session.DeviceName,
		session.RefreshTokenHash,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
	)
	return err
}

func (r *SessionRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := database.Conn(ctx, r.db).
		QueryRow(ctx, `SELECT COUNT(*) FROM user_sessions WHERE user_id = $1`, userID).
		Scan(&count)
	return count, err
}

func (r *SessionRepository) DeleteOldestSessions(ctx context.Context, userID string, keepLatest int) error {
	const query = `
		DELETE FROM user_sessions
		WHERE id IN (
			SELECT id FROM user_sessions
			WHERE user_id = $1
			ORDER BY last_seen_at DESC
			OFFSET $2
		)
	`
	_, err := database.Conn(ctx, r.db).Exec(ctx, query, userID, keepLatest)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (models.Session, error) {
	return r.findOne(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE id = $1`, id)
}

func (r *SessionRepository) FindByRefreshHash(ctx context.Context, userID string, refreshHash []byte) (models.Session, error) {
	return r.findOne(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE user_id = $1 AND refresh_token_hash = $2`,
		userID, refreshHash,
	)
}

func (r *SessionRepository) DeleteByID(ctx context.Context, id string) error {
	cmd, err := database.Conn(ctx, r.db).Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteByDevice(ctx context.Context, userID string, deviceID string) error {
	_, err := database.Conn(ctx, r.db).Exec(ctx,
		`DELETE FROM user_sessions WHERE user_id = $1 AND device_id = $2`, userID, deviceID)
	return err
}

func (r *SessionRepository) Touch(ctx context.Context, sessionID string, ip string, userAgent string) error {
	const query = `
		UPDATE user_sessions
		SET last_seen_at = NOW(),
		    ip_address = COALESCE(NULLIF($2, ''), ip_address),
		    user_agent = COALESCE(NULLIF($3, ''), user_agent)
		WHERE id = $1
	`
	_, err := database.Conn(ctx, r.db).Exec(ctx, query, sessionID, ip, userAgent)
	return err
}

func (r *SessionRepository) findOne(ctx context.Context, query string, args ...any) (models.Session, error) {
	var session models.Session
	err := database.Conn(ctx, r.db).QueryRow(ctx, query, args...).Scan(
		&session.ID,
		&session.UserID,
		&session.DeviceID,
		&session.DeviceName,
		&session.RefreshTokenHash,
		&session.IPAddress,
		&session.UserAgent,
		&session.CreatedAt,
		&session.LastSeenAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}
