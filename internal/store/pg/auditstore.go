package pg

import (
	"context"
	"database/sql"
	"time"

	"pmrp.org/internal/audit"
)

const statsTopLimit = 20

func (s *Store) Record(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into api_audit_log(id, request_id, user_id, endpoint, method, status, latency_ms, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, nullIfEmpty(e.RequestID), nullIfEmpty(e.UserID), e.Endpoint, e.Method, e.Status, e.LatencyMS, e.CreatedAt)
	return err
}

func (s *Store) Stats(ctx context.Context, since time.Time) (audit.Stats, error) {
	var stats audit.Stats

	err := s.db.QueryRowContext(ctx, `
		select count(*),
		       count(*) filter (where status >= 400),
		       coalesce(avg(latency_ms), 0)
		from api_audit_log
		where created_at >= $1
	`, since).Scan(&stats.Total, &stats.Errors, &stats.AvgLatencyMS)
	if err != nil {
		return audit.Stats{}, err
	}
	if stats.Total > 0 {
		stats.ErrorRate = float64(stats.Errors) / float64(stats.Total)
	}

	rows, err := s.db.QueryContext(ctx, `
		select endpoint, count(*) as hits
		from api_audit_log
		where created_at >= $1
		group by endpoint
		order by hits desc
		limit $2
	`, since, statsTopLimit)
	if err != nil {
		return audit.Stats{}, err
	}
	stats.TopEndpoints, err = scanEndpointCounts(rows)
	if err != nil {
		return audit.Stats{}, err
	}

	userRows, err := s.db.QueryContext(ctx, `
		select user_id, count(*) as hits
		from api_audit_log
		where created_at >= $1 and user_id is not null
		group by user_id
		order by hits desc
		limit $2
	`, since, statsTopLimit)
	if err != nil {
		return audit.Stats{}, err
	}
	stats.TopUsers, err = scanUserCounts(userRows)
	if err != nil {
		return audit.Stats{}, err
	}
	return stats, nil
}

func scanEndpointCounts(rows *sql.Rows) ([]audit.EndpointCount, error) {
	defer rows.Close()
	var out []audit.EndpointCount
	for rows.Next() {
		var ec audit.EndpointCount
		if err := rows.Scan(&ec.Endpoint, &ec.Count); err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}

func scanUserCounts(rows *sql.Rows) ([]audit.UserCount, error) {
	defer rows.Close()
	var out []audit.UserCount
	for rows.Next() {
		var uc audit.UserCount
		if err := rows.Scan(&uc.UserID, &uc.Count); err != nil {
			return nil, err
		}
		out = append(out, uc)
	}
	return out, rows.Err()
}
