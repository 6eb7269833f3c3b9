package credentials

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ruanjf/nocobase-plugins/internal/db"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyRegistered  = errors.New("account already exists")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidEmail       = errors.New("invalid email")
)

// Service implements the password authenticator on top of the users table.
type Service struct {
	db *db.DB
}

func NewService(db *db.DB) *Service {
	return &Service{db: db}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Register creates a new, email-unverified user with a password. The
// username is the local part of the email. An email already held by any
// user, linked or not, is refused; a password never attaches to an
// existing account.
func (s *Service) Register(ctx context.Context, email, password string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}

	hash, version, err := HashPassword(password)
	if err != nil {
		return "", err
	}

	userID := uuid.New()
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		// Serialize sign-ups for the same address until commit.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, email); err != nil {
			return err
		}

		// 1. Email must be unused
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM users WHERE LOWER(email) = $1
			)
		`, email).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrAlreadyRegistered
		}

		// 2. Create the user, unverified
		username, _, _ := strings.Cut(email, "@")
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, username, email, email_verified)
			VALUES ($1, $2, $3, false)
		`, userID, username, email); err != nil {
			return err
		}

		// 3. Insert credentials
		_, err := tx.ExecContext(ctx, `
			INSERT INTO credentials (user_id, password_hash, hash_version)
			VALUES ($1, $2, $3)
		`, userID, hash, version)
		return err
	})

	switch {
	case err == nil:
		return userID.String(), nil
	case db.UniqueViolationOn(err, db.ConstraintUsersUsername):
		return "", ErrUsernameTaken
	default:
		return "", err
	}
}

// Authenticate checks a password for the user whose username or email is
// account and returns the user id.
func (s *Service) Authenticate(ctx context.Context, account, password string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	var (
		userID uuid.UUID
		c      Credential
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, c.password_hash, c.hash_version
		FROM users u
		JOIN credentials c ON c.user_id = u.id
		WHERE u.username = $1 OR LOWER(u.email) = LOWER($1)
		ORDER BY u.created_at
		LIMIT 1
	`, account).Scan(&userID, &c.PasswordHash, &c.HashVersion)

	if errors.Is(err, sql.ErrNoRows) {
		// hide whether user exists or not
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	c.UserID = userID.String()
	if err := VerifyPassword(c, password); err != nil {
		return "", ErrInvalidCredentials
	}

	return c.UserID, nil
}
