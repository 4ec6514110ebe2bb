package store

import (
	"context"
	"database/sql"

	"github.com/hitushen/netwatch/internal/models"
)

// RecordScan 保存一次批量扫描的摘要。
func (s *Store) RecordScan(ctx context.Context, res models.FleetScanResult) error {
	var avg any
	if res.Latency.AvgMs != nil {
		avg = *res.Latency.AvgMs
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO scan_runs (id, started_at, finished_at, host_online, total, online, offline, no_internet,
			errors, cancelled, transitions, avg_latency) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.StartedAt.UTC(), res.FinishedAt.UTC(), boolToInt(res.HostOnline), res.Total, res.Online,
		res.Offline, res.NoInternet, res.Errors, res.Cancelled, len(res.Transitions), avg,
	)
	return mapErr(err)
}

// ListScans 按开始时间倒序返回最近的扫描记录。limit 不大于 0 时默认 20 条。
func (s *Store) ListScans(ctx context.Context, limit int) ([]models.ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, started_at, finished_at, host_online, total, online, offline, no_internet, errors,
			cancelled, transitions, avg_latency FROM scan_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScanRun
	for rows.Next() {
		var r models.ScanRun
		var hostOnline int
		var avg sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &hostOnline, &r.Total, &r.Online, &r.Offline,
			&r.NoInternet, &r.Errors, &r.Cancelled, &r.Transitions, &avg); err != nil {
			return nil, err
		}
		r.HostOnline = hostOnline == 1
		if avg.Valid {
			v := avg.Float64
			r.AvgLatency = &v
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
