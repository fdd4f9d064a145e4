package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSubscription registers a webhook subscriber. The auth token is
// encrypted when the store has an encryptor.
func (s *SQLiteStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	if sub.AuthType == "" {
		sub.AuthType = "none"
	}

	eventTypes, err := marshalJSON(sub.EventTypes)
	if err != nil {
		return fmt.Errorf("encode event types: %w", err)
	}
	headers, err := marshalJSON(sub.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	token := sub.AuthToken
	if token != "" && s.enc != nil {
		if token, err = s.enc.Encrypt(token); err != nil {
			return fmt.Errorf("encrypt auth token: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, url, event_types, auth_type, auth_token, headers, created_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		sub.ID,
		sub.URL,
		eventTypes.String,
		sub.AuthType,
		nullString(token),
		headers,
		formatTime(sub.CreatedAt),
	)
	return err
}

const selectSubscriptionCols = "id, url, event_types, auth_type, auth_token, headers, created_at, revoked_at"

func (s *SQLiteStore) scanSubscription(row scanner) (*Subscription, error) {
	var sub Subscription
	var eventTypes, createdAt string
	var token, headers, revokedAt sql.NullString

	if err := row.Scan(&sub.ID, &sub.URL, &eventTypes, &sub.AuthType, &token, &headers, &createdAt, &revokedAt); err != nil {
		return nil, err
	}

	var err error
	if err = unmarshalJSON(sql.NullString{String: eventTypes, Valid: true}, &sub.EventTypes); err != nil {
		return nil, fmt.Errorf("decode event_types: %w", err)
	}
	if err = unmarshalJSON(headers, &sub.Headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sub.RevokedAt, err = parseTimePtr(revokedAt); err != nil {
		return nil, fmt.Errorf("parse revoked_at: %w", err)
	}
	sub.AuthToken = token.String
	if sub.AuthToken != "" && s.enc != nil {
		if sub.AuthToken, err = s.enc.Decrypt(sub.AuthToken); err != nil {
			return nil, fmt.Errorf("decrypt auth token for %s: %w", sub.ID, err)
		}
	}
	return &sub, nil
}

// GetSubscription returns a subscription by id, or nil if it does not exist.
func (s *SQLiteStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectSubscriptionCols+" FROM subscriptions WHERE id = ?", id)
	sub, err := s.scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

// ListSubscriptions returns subscriptions ordered by creation time.
func (s *SQLiteStore) ListSubscriptions(ctx context.Context, includeRevoked bool) ([]*Subscription, error) {
	query := "SELECT " + selectSubscriptionCols + " FROM subscriptions"
	if !includeRevoked {
		query += " WHERE revoked_at IS NULL"
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// RevokeSubscription stops future deliveries to a subscriber. The row is
// kept so that its delivery history remains readable.
func (s *SQLiteStore) RevokeSubscription(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
		formatTime(at), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
