// Package pg is the Postgres persistence layer. One Store serves all
// persistence consumers: token records, the account directory, the
// permission graph and identity provider configurations. The consumer
// interfaces overlap in method names, so each is exposed through a
// narrow view (Tokens, Users, Providers) over the same connection.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/federation"
	"gatekit.org/internal/ids"
	"gatekit.org/internal/token"
)

const pgErrUniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Tokens is the token-record view of the store.
func (s *Store) Tokens() token.Store { return tokenView{s} }

// Users is the account-directory view of the store.
func (s *Store) Users() authz.UserStore { return userView{s} }

// Graph is the permission-graph view of the store.
func (s *Store) Graph() authz.GraphStore { return s }

// Providers is the identity-provider configuration view of the store.
func (s *Store) Providers() federation.ConfigStore { return providerView{s} }

var (
	_ token.Store            = tokenView{}
	_ authz.UserStore        = userView{}
	_ authz.GraphStore       = (*Store)(nil)
	_ federation.ConfigStore = providerView{}
)

// --- token records ---

type tokenView struct{ s *Store }

func (v tokenView) Create(ctx context.Context, rec token.Record) error {
	return v.s.CreateToken(ctx, rec)
}
func (v tokenView) Get(ctx context.Context, tokenID string) (token.Record, error) {
	return v.s.GetToken(ctx, tokenID)
}
func (v tokenView) Delete(ctx context.Context, tokenID string) error {
	return v.s.DeleteToken(ctx, tokenID)
}
func (v tokenView) List(ctx context.Context) ([]token.Record, error) {
	return v.s.ListTokens(ctx)
}
func (v tokenView) Count(ctx context.Context) (int, error) {
	return v.s.CountTokens(ctx)
}

func (s *Store) CreateToken(ctx context.Context, rec token.Record) error {
	_, err := s.db.ExecContext(ctx, `
		insert into tokens (token_id, username, issued_at, expires_at)
		values ($1, $2, $3, $4)
	`, rec.TokenID, rec.Username, rec.IssuedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert token record: %w", err)
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (token.Record, error) {
	var rec token.Record
	err := s.db.QueryRowContext(ctx, `
		select token_id, username, issued_at, expires_at
		from tokens where token_id = $1
	`, tokenID).Scan(&rec.TokenID, &rec.Username, &rec.IssuedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return token.Record{}, token.ErrNotFound
	}
	if err != nil {
		return token.Record{}, fmt.Errorf("select token record: %w", err)
	}
	return rec, nil
}

func (s *Store) DeleteToken(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx, `delete from tokens where token_id = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("delete token record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete token record: %w", err)
	}
	if n == 0 {
		return token.ErrNotFound
	}
	return nil
}

func (s *Store) ListTokens(ctx context.Context) ([]token.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		select token_id, username, issued_at, expires_at
		from tokens order by issued_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list token records: %w", err)
	}
	defer rows.Close()

	var out []token.Record
	for rows.Next() {
		var rec token.Record
		if err := rows.Scan(&rec.TokenID, &rec.Username, &rec.IssuedAt, &rec.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CountTokens(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from tokens`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count token records: %w", err)
	}
	return n, nil
}

// --- account directory ---

type userView struct{ s *Store }

func (v userView) GetByUsername(ctx context.Context, username string) (*authz.User, error) {
	return v.s.GetUserByUsername(ctx, username)
}
func (v userView) GetByEmail(ctx context.Context, email string) (*authz.User, error) {
	return v.s.GetUserByEmail(ctx, email)
}
func (v userView) List(ctx context.Context) ([]*authz.User, error) {
	return v.s.ListUsers(ctx)
}
func (v userView) Create(ctx context.Context, u *authz.User) error {
	return v.s.CreateUser(ctx, u)
}

const userColumns = `id, username, email, full_name, password_hash, account_type, groups, created_at, updated_at`

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*authz.User, error) {
	return s.getUser(ctx, `where username = $1`, username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authz.User, error) {
	return s.getUser(ctx, `where email = $1`, email)
}

func (s *Store) getUser(ctx context.Context, where, arg string) (*authz.User, error) {
	var (
		u         authz.User
		rawGroups []byte
	)
	err := s.db.QueryRowContext(ctx, `select `+userColumns+` from users `+where, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.FullName, &u.PasswordHash,
		&u.AccountType, &rawGroups, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	if len(rawGroups) > 0 {
		if err := json.Unmarshal(rawGroups, &u.Groups); err != nil {
			return nil, fmt.Errorf("decode user groups: %w", err)
		}
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*authz.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*authz.User
	for rows.Next() {
		var (
			u         authz.User
			rawGroups []byte
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.PasswordHash,
			&u.AccountType, &rawGroups, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		if len(rawGroups) > 0 {
			if err := json.Unmarshal(rawGroups, &u.Groups); err != nil {
				return nil, fmt.Errorf("decode user groups: %w", err)
			}
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, u *authz.User) error {
	if u == nil || u.Username == "" {
		return fmt.Errorf("%w: username is required", authz.ErrInvalidInput)
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.AccountType == "" {
		u.AccountType = authz.AccountTypeUser
	}
	groups, err := json.Marshal(emptyIfNil(u.Groups))
	if err != nil {
		return fmt.Errorf("marshal user groups: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		insert into users (id, username, email, full_name, password_hash, account_type, groups)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, u.ID, u.Username, u.Email, u.FullName, u.PasswordHash, u.AccountType, groups).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: user %s", authz.ErrConflict, u.Username)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// --- permission graph ---

func (s *Store) Group(ctx context.Context, name string) (*authz.Group, error) {
	var (
		g        authz.Group
		rawRoles []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select name, roles from groups where name = $1
	`, name).Scan(&g.Name, &rawRoles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select group: %w", err)
	}
	if len(rawRoles) > 0 {
		if err := json.Unmarshal(rawRoles, &g.Roles); err != nil {
			return nil, fmt.Errorf("decode group roles: %w", err)
		}
	}
	return &g, nil
}

func (s *Store) Role(ctx context.Context, name string) (*authz.Role, error) {
	var (
		r          authz.Role
		rawActions []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select name, actions from roles where name = $1
	`, name).Scan(&r.Name, &rawActions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select role: %w", err)
	}
	if len(rawActions) > 0 {
		if err := json.Unmarshal(rawActions, &r.Actions); err != nil {
			return nil, fmt.Errorf("decode role actions: %w", err)
		}
	}
	return &r, nil
}

func (s *Store) PutGroup(ctx context.Context, g authz.Group) error {
	roles, err := json.Marshal(emptyIfNil(g.Roles))
	if err != nil {
		return fmt.Errorf("marshal group roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into groups (name, roles) values ($1, $2)
		on conflict (name) do update set roles = excluded.roles, updated_at = now()
	`, g.Name, roles)
	if err != nil {
		return fmt.Errorf("upsert group: %w", err)
	}
	return nil
}

func (s *Store) PutRole(ctx context.Context, r authz.Role) error {
	actions, err := json.Marshal(emptyIfNil(r.Actions))
	if err != nil {
		return fmt.Errorf("marshal role actions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into roles (name, actions) values ($1, $2)
		on conflict (name) do update set actions = excluded.actions, updated_at = now()
	`, r.Name, actions)
	if err != nil {
		return fmt.Errorf("upsert role: %w", err)
	}
	return nil
}

// --- identity provider configurations ---

type providerView struct{ s *Store }

func (v providerView) List(ctx context.Context) ([]federation.ProviderConfig, error) {
	return v.s.ListProviders(ctx)
}
func (v providerView) ByProvider(ctx context.Context, provider string) ([]federation.ProviderConfig, error) {
	return v.s.ProvidersByName(ctx, provider)
}

func (s *Store) ListProviders(ctx context.Context) ([]federation.ProviderConfig, error) {
	return s.queryProviders(ctx, `
		select id, provider, client_id, enabled, default_groups
		from oauth_configs order by provider
	`)
}

func (s *Store) ProvidersByName(ctx context.Context, provider string) ([]federation.ProviderConfig, error) {
	return s.queryProviders(ctx, `
		select id, provider, client_id, enabled, default_groups
		from oauth_configs where provider = $1
	`, provider)
}

func (s *Store) queryProviders(ctx context.Context, query string, args ...any) ([]federation.ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list provider configs: %w", err)
	}
	defer rows.Close()

	var out []federation.ProviderConfig
	for rows.Next() {
		var (
			cfg       federation.ProviderConfig
			rawGroups []byte
		)
		if err := rows.Scan(&cfg.ID, &cfg.Provider, &cfg.ClientID, &cfg.Enabled, &rawGroups); err != nil {
			return nil, err
		}
		if len(rawGroups) > 0 {
			if err := json.Unmarshal(rawGroups, &cfg.DefaultGroups); err != nil {
				return nil, fmt.Errorf("decode provider default groups: %w", err)
			}
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) PutProvider(ctx context.Context, cfg federation.ProviderConfig) error {
	if cfg.ID == "" {
		cfg.ID = ids.New()
	}
	groups, err := json.Marshal(emptyIfNil(cfg.DefaultGroups))
	if err != nil {
		return fmt.Errorf("marshal provider default groups: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into oauth_configs (id, provider, client_id, enabled, default_groups)
		values ($1, $2, $3, $4, $5)
		on conflict (provider) do update
		set client_id = excluded.client_id,
		    enabled = excluded.enabled,
		    default_groups = excluded.default_groups,
		    updated_at = now()
	`, cfg.ID, cfg.Provider, cfg.ClientID, cfg.Enabled, groups)
	if err != nil {
		return fmt.Errorf("upsert provider config: %w", err)
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func emptyIfNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
