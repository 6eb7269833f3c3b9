// Package userstore persists local users and their links to external
// identities in PostgreSQL.
package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ruanjf/nocobase-plugins/internal/auth"
	"github.com/ruanjf/nocobase-plugins/internal/db"
)

var (
	errAlreadyLinked = errors.New("external user already linked")
	errUsernameTaken = errors.New("username already taken")
)

// PostgresStore is the canonical user store.
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(db *db.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `u.id, u.username, u.nickname, u.email, u.phone, u.meta`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		id           uuid.UUID
		u            auth.User
		email, phone sql.NullString
		meta         []byte
	)
	if err := row.Scan(&id, &u.Username, &u.Nickname, &email, &phone, &meta); err != nil {
		return nil, err
	}
	u.ID = id.String()
	u.Email = email.String
	u.Phone = phone.String
	if len(meta) > 0 {
		u.Meta = meta
	}
	return &u, nil
}

// queryUser runs a single-row user query; no row is (nil, nil).
func (s *PostgresStore) queryUser(ctx context.Context, query string, args ...any) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) FindUserByID(ctx context.Context, userID string) (*auth.User, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, nil
	}
	return s.queryUser(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE u.id = $1
	`, id)
}

func (s *PostgresStore) FindLinkedUser(ctx context.Context, authenticator, externalUserID string) (*auth.User, error) {
	return s.queryUser(ctx, `
		SELECT `+userColumns+`
		FROM user_links l
		JOIN users u ON u.id = l.user_id
		WHERE l.authenticator = $1
		  AND l.external_user_id = $2
	`, authenticator, externalUserID)
}

// FindUserByContact matches the email or phone column exactly. Emails
// only match verified addresses. When several users share the value the
// oldest one wins.
func (s *PostgresStore) FindUserByContact(ctx context.Context, key auth.MatchKey) (*auth.User, error) {
	if key.Value == "" {
		return nil, nil
	}

	var where string
	switch key.Field {
	case auth.ContactEmail:
		where = "u.email = $1 AND u.email_verified"
	case auth.ContactPhone:
		where = "u.phone = $1"
	default:
		return nil, fmt.Errorf("unsupported contact field %q", key.Field)
	}

	return s.queryUser(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE `+where+`
		ORDER BY u.created_at
		LIMIT 1
	`, key.Value)
}

// LinkUser records the link unless one already exists for the external id.
func (s *PostgresStore) LinkUser(ctx context.Context, authenticator, externalUserID, userID string) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_links (authenticator, external_user_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (authenticator, external_user_id) DO NOTHING
	`, authenticator, externalUserID, id)
	return err
}

// CreateLinkedUser creates the user and its link in one transaction. If
// another request linked the external id first, that user is returned and
// nothing is created. A taken username falls back to
// "<username>_<externalUserID>".
func (s *PostgresStore) CreateLinkedUser(ctx context.Context, authenticator, externalUserID string, nu auth.NewUser) (*auth.User, error) {
	id := uuid.New()
	username := nu.Username

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		inserted := false
		for _, candidate := range []string{nu.Username, nu.Username + "_" + externalUserID} {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO users (id, username, nickname, email, email_verified, phone, meta)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (username) DO NOTHING
			`,
				id,
				candidate,
				nu.Nickname,
				nullString(nu.Email),
				nu.Email != "", // taken from the provider directory
				nullString(nu.Phone),
				nullString(string(nu.Meta)),
			)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 1 {
				username, inserted = candidate, true
				break
			}
		}
		if !inserted {
			return errUsernameTaken
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO user_links (authenticator, external_user_id, user_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (authenticator, external_user_id) DO NOTHING
		`, authenticator, externalUserID, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errAlreadyLinked
		}
		return nil
	})

	switch {
	case err == nil:
		return &auth.User{
			ID:       id.String(),
			Username: username,
			Nickname: nu.Nickname,
			Email:    nu.Email,
			Phone:    nu.Phone,
			Meta:     nu.Meta,
		}, nil

	case errors.Is(err, errAlreadyLinked), errors.Is(err, errUsernameTaken):
		// Lost a race with a concurrent callback for the same person, or
		// the username is genuinely taken.
		existing, findErr := s.FindLinkedUser(ctx, authenticator, externalUserID)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return existing, nil
		}
		if errors.Is(err, errUsernameTaken) {
			return nil, auth.Validation(auth.CodeUsernameTaken, "username already taken: "+nu.Username)
		}
		return nil, err

	default:
		return nil, err
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
