package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pmrp.org/internal/auth"
)

func (s *Store) UpsertIdentity(ctx context.Context, ident auth.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		insert into identities(id, username, avatar_url, updated_at)
		values ($1,$2,$3,$4)
		on conflict (id) do update
		set username = excluded.username,
		    avatar_url = excluded.avatar_url,
		    updated_at = excluded.updated_at
	`, ident.ID, ident.Username, nullIfEmpty(ident.AvatarURL), ident.UpdatedAt)
	return err
}

func (s *Store) InsertSession(ctx context.Context, sess auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auth_sessions(id, user_id, created_at, expires_at)
		values ($1,$2,$3,$4)
	`, sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
	}
	return err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `delete from auth_sessions where expires_at <= $1`, now)
	return err
}

func (s *Store) FindSessionIdentity(ctx context.Context, sessionID string) (auth.Identity, error) {
	var ident auth.Identity
	var avatar sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select i.id, i.username, i.avatar_url, i.updated_at
		from auth_sessions s
		join identities i on i.id = s.user_id
		where s.id = $1
	`, sessionID).Scan(&ident.ID, &ident.Username, &avatar, &ident.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Identity{}, err
	}
	ident.AvatarURL = avatar.String
	return ident, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `delete from auth_sessions where id = $1`, sessionID)
	return err
}

func (s *Store) ListIdentities(ctx context.Context, search string, limit int) ([]auth.Identity, error) {
	query := `
		select id, username, avatar_url, updated_at
		from identities
	`
	args := []any{}
	if search != "" {
		query += ` where username ilike $1 or id ilike $1`
		args = append(args, "%"+search+"%")
	}
	query += fmt.Sprintf(` order by updated_at desc limit $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Identity
	for rows.Next() {
		var ident auth.Identity
		var avatar sql.NullString
		if err := rows.Scan(&ident.ID, &ident.Username, &avatar, &ident.UpdatedAt); err != nil {
			return nil, err
		}
		ident.AvatarURL = avatar.String
		out = append(out, ident)
	}
	return out, rows.Err()
}

func (s *Store) EnsureIdentity(ctx context.Context, id, username string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into identities(id, username, updated_at)
		values ($1,$2,now())
		on conflict (id) do nothing
	`, id, username)
	return err
}

func (s *Store) UpsertGrant(ctx context.Context, g auth.PermissionGrant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_permissions(user_id, resource, action, granted_by, granted_at, expires_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (user_id, resource, action) do update
		set granted_by = excluded.granted_by,
		    granted_at = excluded.granted_at,
		    expires_at = excluded.expires_at
	`, g.UserID, g.Resource, string(g.Action), nullIfEmpty(g.GrantedBy), g.GrantedAt, nullIfZero(g.ExpiresAt))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
	}
	return err
}

func (s *Store) DeleteGrant(ctx context.Context, userID, resource string, action auth.Action) error {
	_, err := s.db.ExecContext(ctx, `
		delete from user_permissions
		where user_id = $1 and resource = $2 and action = $3
	`, userID, resource, string(action))
	return err
}

func (s *Store) GrantsMatching(ctx context.Context, userID, resource string, actions []auth.Action) ([]auth.PermissionGrant, error) {
	if len(actions) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(actions))
	args := []any{userID, resource}
	for i, a := range actions {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, string(a))
	}
	query := fmt.Sprintf(`
		select user_id, resource, action, granted_by, granted_at, expires_at
		from user_permissions
		where user_id = $1 and resource = $2 and action in (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *Store) ResourceGrants(ctx context.Context, resource string, actions []auth.Action) ([]auth.PermissionGrant, error) {
	if len(actions) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(actions))
	args := []any{resource}
	for i, a := range actions {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, string(a))
	}
	query := fmt.Sprintf(`
		select user_id, resource, action, granted_by, granted_at, expires_at
		from user_permissions
		where resource = $1 and action in (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *Store) ListGrants(ctx context.Context, userID string) ([]auth.PermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, resource, action, granted_by, granted_at, expires_at
		from user_permissions
		where user_id = $1
		order by resource asc, action asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func scanGrants(rows *sql.Rows) ([]auth.PermissionGrant, error) {
	var out []auth.PermissionGrant
	for rows.Next() {
		var g auth.PermissionGrant
		var action string
		var grantedBy sql.NullString
		var expires sql.NullTime
		if err := rows.Scan(&g.UserID, &g.Resource, &action, &grantedBy, &g.GrantedAt, &expires); err != nil {
			return nil, err
		}
		g.Action = auth.Action(action)
		g.GrantedBy = grantedBy.String
		g.ExpiresAt = timePtr(expires)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) InsertAPIKey(ctx context.Context, key auth.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		insert into api_keys(id, key_type, user_id, name, key_hash, created_at, expires_at, is_active, created_by)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, key.ID, string(key.Type), key.UserID, key.Name, key.Hash, key.CreatedAt,
		nullIfZero(key.ExpiresAt), key.Active, nullIfEmpty(key.CreatedBy))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
	}
	return err
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]auth.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, key_type, user_id, name, key_hash, created_at, expires_at, last_used_at, is_active, created_by
		from api_keys
		where user_id = $1
		order by created_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *Store) DeactivateAPIKey(ctx context.Context, keyID, requesterID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update api_keys
		set is_active = false
		where id = $1 and (created_by = $2 or user_id = $2)
	`, keyID, requesterID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) FindAPIKeyByHash(ctx context.Context, hash string) (auth.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, key_type, user_id, name, key_hash, created_at, expires_at, last_used_at, is_active, created_by
		from api_keys
		where key_hash = $1
	`, hash)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.APIKey{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.APIKey{}, err
	}
	return key, nil
}

func (s *Store) TouchAPIKey(ctx context.Context, keyID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `update api_keys set last_used_at = $2 where id = $1`, keyID, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (auth.APIKey, error) {
	var key auth.APIKey
	var keyType string
	var expires, lastUsed sql.NullTime
	var createdBy sql.NullString
	if err := row.Scan(&key.ID, &keyType, &key.UserID, &key.Name, &key.Hash,
		&key.CreatedAt, &expires, &lastUsed, &key.Active, &createdBy); err != nil {
		return auth.APIKey{}, err
	}
	key.Type = auth.APIKeyType(keyType)
	key.ExpiresAt = timePtr(expires)
	key.LastUsedAt = timePtr(lastUsed)
	key.CreatedBy = createdBy.String
	return key, nil
}
