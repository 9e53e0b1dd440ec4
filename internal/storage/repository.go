// Package storage is the SQLite-backed implementation of the backend ports.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"finanzas/internal/backend"
	"finanzas/internal/core"
)

type SQLiteRepository struct {
	db      *sql.DB
	emitter *backend.Emitter
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		emitter: backend.NewEmitter(),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Auth() backend.Auth                     { return (*sqliteAuth)(r) }
func (r *SQLiteRepository) Profiles() backend.ProfileStore         { return (*sqliteProfiles)(r) }
func (r *SQLiteRepository) Transactions() backend.TransactionStore { return (*sqliteTxs)(r) }

type sqliteAuth SQLiteRepository

func (a *sqliteAuth) CurrentSession(ctx context.Context) (*core.User, error) {
	r := (*SQLiteRepository)(a)
	row := r.db.QueryRowContext(ctx, `
		SELECT ac.id, ac.name, ac.email, ac.avatar_url
		FROM auth_state st
		JOIN accounts ac ON ac.id = st.user_id
		WHERE st.id = 1`)

	var u core.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.AvatarURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrNoSession
		}
		return nil, fmt.Errorf("read session state: %w", err)
	}
	return &u, nil
}

func (a *sqliteAuth) SignIn(ctx context.Context, email, password string) (*core.User, error) {
	r := (*SQLiteRepository)(a)
	row := r.db.QueryRowContext(ctx, `
		SELECT id, password_hash, name, email, avatar_url
		FROM accounts WHERE email = ?`, strings.ToLower(email))

	var u core.User
	var hash string
	if err := row.Scan(&u.ID, &hash, &u.Name, &u.Email, &u.AvatarURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, backend.ErrInvalidCredentials
	}

	if err := a.setCurrent(ctx, u.ID); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Account signed in", "user_id", u.ID)
	r.emitter.Emit(backend.AuthEvent{Type: backend.EventSignedIn, User: &u})
	cp := u
	return &cp, nil
}

func (a *sqliteAuth) SignUp(ctx context.Context, email, password string) (*core.User, error) {
	r := (*SQLiteRepository)(a)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := core.User{
		ID:    uuid.NewString(),
		Name:  core.DefaultName(email),
		Email: email,
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, name)
		VALUES (?, ?, ?, ?)`,
		u.ID, strings.ToLower(email), string(hash), u.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, backend.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	if err := a.setCurrent(ctx, u.ID); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Account created", "user_id", u.ID)
	r.emitter.Emit(backend.AuthEvent{Type: backend.EventSignedIn, User: &u})
	cp := u
	return &cp, nil
}

func (a *sqliteAuth) SignOut(ctx context.Context) error {
	r := (*SQLiteRepository)(a)
	if _, err := r.db.ExecContext(ctx, `UPDATE auth_state SET user_id = NULL WHERE id = 1`); err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	r.emitter.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
	return nil
}

func (a *sqliteAuth) UpdateMetadata(ctx context.Context, userID string, upd core.ProfileUpdate) error {
	r := (*SQLiteRepository)(a)
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET name = COALESCE(?, name), avatar_url = COALESCE(?, avatar_url)
		WHERE id = ?`,
		upd.Name, upd.AvatarURL, userID)
	if err != nil {
		return fmt.Errorf("update account metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return backend.ErrNotFound
	}
	return nil
}

func (a *sqliteAuth) Subscribe(l backend.AuthListener) backend.Unsubscribe {
	return (*SQLiteRepository)(a).emitter.Subscribe(l)
}

func (a *sqliteAuth) setCurrent(ctx context.Context, userID string) error {
	r := (*SQLiteRepository)(a)
	if _, err := r.db.ExecContext(ctx, `UPDATE auth_state SET user_id = ? WHERE id = 1`, userID); err != nil {
		return fmt.Errorf("persist session state: %w", err)
	}
	return nil
}

type sqliteProfiles SQLiteRepository

func (p *sqliteProfiles) Get(ctx context.Context, userID string) (core.Profile, error) {
	r := (*SQLiteRepository)(p)
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, currency, theme, notifications_enabled, created_at, updated_at
		FROM profiles WHERE id = ?`, userID)

	var prof core.Profile
	var notif int64
	if err := row.Scan(&prof.ID, &prof.Name, &prof.Email, &prof.Currency,
		&prof.Theme, &notif, &prof.CreatedAt, &prof.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Profile{}, backend.ErrProfileNotFound
		}
		return core.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	prof.NotificationsEnabled = notif != 0
	prof.CreatedAt = prof.CreatedAt.UTC()
	prof.UpdatedAt = prof.UpdatedAt.UTC()
	return prof, nil
}

func (p *sqliteProfiles) Insert(ctx context.Context, prof core.Profile) error {
	r := (*SQLiteRepository)(p)
	now := time.Now().UTC()
	if prof.CreatedAt.IsZero() {
		prof.CreatedAt = now
	}
	// ON CONFLICT DO NOTHING keeps the insert idempotent against a racing
	// initializer.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, email, currency, theme, notifications_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		prof.ID, prof.Name, prof.Email, prof.Currency, prof.Theme,
		boolToInt(prof.NotificationsEnabled), prof.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (p *sqliteProfiles) Update(ctx context.Context, userID string, upd core.ProfileUpdate) error {
	r := (*SQLiteRepository)(p)
	var notif *int64
	if upd.NotificationsEnabled != nil {
		v := int64(0)
		if *upd.NotificationsEnabled {
			v = 1
		}
		notif = &v
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE profiles
		SET name                  = COALESCE(?, name),
		    currency              = COALESCE(?, currency),
		    theme                 = COALESCE(?, theme),
		    notifications_enabled = COALESCE(?, notifications_enabled),
		    updated_at            = ?
		WHERE id = ?`,
		upd.Name, upd.Currency, upd.Theme, notif, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return backend.ErrProfileNotFound
	}
	return nil
}

type sqliteTxs SQLiteRepository

func (t *sqliteTxs) Query(ctx context.Context, userID string, f backend.TransactionFilter) ([]core.Transaction, error) {
	r := (*SQLiteRepository)(t)
	q := `
		SELECT id, user_id, kind, amount_cents, description, category, created_at
		FROM transactions WHERE user_id = ?`
	args := []any{userID}
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if !f.From.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		q += ` AND created_at <= ?`
		args = append(args, f.To.UTC())
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var tx core.Transaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Kind, &tx.Amount.Cents,
			&tx.Description, &tx.Category, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (t *sqliteTxs) Insert(ctx context.Context, tx core.Transaction) (string, error) {
	r := (*SQLiteRepository)(t)
	tx.ID = uuid.NewString()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, kind, amount_cents, description, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, string(tx.Kind), tx.Amount.Cents, tx.Description, tx.Category, tx.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", tx.ID,
		"kind", tx.Kind,
		"amount_cents", tx.Amount.Cents,
		"category", tx.Category)
	return tx.ID, nil
}

func (t *sqliteTxs) Get(ctx context.Context, id string) (core.Transaction, error) {
	r := (*SQLiteRepository)(t)
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, amount_cents, description, category, created_at
		FROM transactions WHERE id = ?`, id)

	var tx core.Transaction
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.Kind, &tx.Amount.Cents,
		&tx.Description, &tx.Category, &tx.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Transaction{}, backend.ErrNotFound
		}
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
