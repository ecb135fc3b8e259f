package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pmrp.org/internal/openings"
)

func (s *Store) Insert(ctx context.Context, o openings.Opening) error {
	tags, err := json.Marshal(o.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into openings(id, title, description, category, tags, contact, author_id, author_name, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, o.ID, o.Title, o.Description, string(o.Category), tags, o.Contact, o.AuthorID, o.AuthorName, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return errors.New("opening id collision")
			case pgErrForeignKeyViolation:
				return openings.ErrNotFound
			}
		}
	}
	return err
}

func (s *Store) Get(ctx context.Context, id string) (openings.Opening, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, title, description, category, tags, contact,
		       author_id, author_name, created_at, updated_at, closed_at
		from openings
		where id = $1
	`, id)
	o, err := scanOpening(row)
	if errors.Is(err, sql.ErrNoRows) {
		return openings.Opening{}, openings.ErrNotFound
	}
	return o, err
}

func (s *Store) List(ctx context.Context) ([]openings.Opening, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, title, description, category, tags, contact,
		       author_id, author_name, created_at, updated_at, closed_at
		from openings
		order by created_at desc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []openings.Opening
	for rows.Next() {
		o, err := scanOpening(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, id string, p openings.Patch, now time.Time) (int64, error) {
	sets := []string{}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.Category != nil {
		add("category", *p.Category)
	}
	if p.Contact != nil {
		add("contact", *p.Contact)
	}
	if p.Tags != nil {
		tags, err := json.Marshal(*p.Tags)
		if err != nil {
			return 0, fmt.Errorf("encode tags: %w", err)
		}
		add("tags", tags)
	}
	if len(sets) == 0 {
		return 0, nil
	}
	add("updated_at", now)

	query := fmt.Sprintf(`update openings set %s where id = $1`, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) MarkClosed(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update openings
		set closed_at = $2, updated_at = $2
		where id = $1 and closed_at is null
	`, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) Delete(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from openings where id = $1`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Transfer(ctx context.Context, id string, owner openings.Author, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update openings
		set author_id = $2, author_name = $3, updated_at = $4
		where id = $1
	`, id, owner.ID, owner.Name, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) EnsureAuthor(ctx context.Context, owner openings.Author) error {
	_, err := s.db.ExecContext(ctx, `
		insert into identities(id, username, updated_at)
		values ($1,$2,now())
		on conflict (id) do nothing
	`, owner.ID, owner.Name)
	return err
}

func scanOpening(row rowScanner) (openings.Opening, error) {
	var o openings.Opening
	var category string
	var tags []byte
	var closed sql.NullTime
	if err := row.Scan(&o.ID, &o.Title, &o.Description, &category, &tags, &o.Contact,
		&o.AuthorID, &o.AuthorName, &o.CreatedAt, &o.UpdatedAt, &closed); err != nil {
		return openings.Opening{}, err
	}
	o.Category = openings.Category(category)
	o.ClosedAt = timePtr(closed)
	o.Tags = []string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &o.Tags); err != nil {
			return openings.Opening{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return o, nil
}
