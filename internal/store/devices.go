package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitushen/netwatch/internal/models"
)

// DeviceQuery 为列举设备提供可选过滤条件，零值表示不过滤。
type DeviceQuery struct {
	Status    models.Status
	SiteID    int64
	CreatedBy int64
	// Province 与 District 通过设备所属站点过滤，不区分大小写；未归属站点的设备不会命中。
	Province string
	District string
}

const deviceColumns = `id, site_id, created_by, name, mac, ip, kind, ports, ping_fallback, ping_count,
	timeout_seconds, retry_count, status, last_check_attempt, last_confirmed_online, last_error,
	last_verdict, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var (
		d               models.Device
		ports           string
		pingFallback    int
		lastAttempt     sql.NullTime
		lastOnline      sql.NullTime
		lastVerdictJSON sql.NullString
	)
	if err := row.Scan(&d.ID, &d.SiteID, &d.CreatedBy, &d.Name, &d.MAC, &d.Address, &d.Kind, &ports,
		&pingFallback, &d.PingCount, &d.TimeoutSeconds, &d.RetryCount, &d.Status, &lastAttempt,
		&lastOnline, &d.LastError, &lastVerdictJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.PingFallback = pingFallback == 1
	if err := json.Unmarshal([]byte(ports), &d.Ports); err != nil {
		return nil, fmt.Errorf("decode ports for device %d: %w", d.ID, err)
	}
	if lastAttempt.Valid {
		d.LastCheckAttempt = lastAttempt.Time.UTC()
	}
	if lastOnline.Valid {
		d.LastConfirmedOnline = lastOnline.Time.UTC()
	}
	if lastVerdictJSON.Valid && lastVerdictJSON.String != "" {
		var v models.Verdict
		if err := json.Unmarshal([]byte(lastVerdictJSON.String), &v); err != nil {
			return nil, fmt.Errorf("decode verdict for device %d: %w", d.ID, err)
		}
		d.LastVerdict = &v
	}
	return &d, nil
}

// ListDevices 按名称返回符合条件的设备。
func (s *Store) ListDevices(ctx context.Context, q DeviceQuery) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE 1 = 1`
	var args []any
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if q.SiteID > 0 {
		query += ` AND site_id = ?`
		args = append(args, q.SiteID)
	}
	if q.CreatedBy > 0 {
		query += ` AND created_by = ?`
		args = append(args, q.CreatedBy)
	}
	if q.Province != "" {
		query += ` AND site_id IN (SELECT id FROM sites WHERE province = ? COLLATE NOCASE)`
		args = append(args, q.Province)
	}
	if q.District != "" {
		query += ` AND site_id IN (SELECT id FROM sites WHERE district = ? COLLATE NOCASE)`
		args = append(args, q.District)
	}
	query += ` ORDER BY name ASC, id ASC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetDevice 根据 ID 获取设备。
func (s *Store) GetDevice(ctx context.Context, id int64) (*models.Device, error) {
	d, err := scanDevice(s.DB.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return d, nil
}

// CreateDevice 新建设备记录，MAC 或 (名称, 站点, 地址) 重复时返回 ErrConflict。
func (s *Store) CreateDevice(ctx context.Context, d *models.Device) (int64, error) {
	ports, err := encodePorts(d.Ports)
	if err != nil {
		return 0, err
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO devices (site_id, created_by, name, mac, ip, kind, ports, ping_fallback, ping_count,
			timeout_seconds, retry_count, status) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SiteID, d.CreatedBy, d.Name, d.MAC, d.Address, string(d.Kind), ports, boolToInt(d.PingFallback),
		d.PingCount, d.TimeoutSeconds, d.RetryCount, string(models.StatusUnknown),
	)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.LastInsertId()
}

// UpdateDevice 更新设备的登记信息与探测策略，不触碰判定相关字段。
func (s *Store) UpdateDevice(ctx context.Context, d *models.Device) error {
	ports, err := encodePorts(d.Ports)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE devices SET site_id = ?, name = ?, mac = ?, ip = ?, kind = ?, ports = ?, ping_fallback = ?,
			ping_count = ?, timeout_seconds = ?, retry_count = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		d.SiteID, d.Name, d.MAC, d.Address, string(d.Kind), ports, boolToInt(d.PingFallback),
		d.PingCount, d.TimeoutSeconds, d.RetryCount, d.ID,
	)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDevice 立即删除设备。
func (s *Store) DeleteDevice(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveVerdict 写回一次判定产生的易变字段。设备已被删除时返回 ErrNotFound。
func (s *Store) SaveVerdict(ctx context.Context, d *models.Device) error {
	var verdict any
	if d.LastVerdict != nil {
		raw, err := json.Marshal(d.LastVerdict)
		if err != nil {
			return fmt.Errorf("encode verdict: %w", err)
		}
		verdict = string(raw)
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE devices SET status = ?, last_check_attempt = ?, last_confirmed_online = ?, last_error = ?,
			last_verdict = ? WHERE id = ?`,
		string(d.Status), nullTime(d.LastCheckAttempt), nullTime(d.LastConfirmedOnline), d.LastError, verdict, d.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByStatus 返回各状态的设备数量。
func (s *Store) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(1) FROM devices GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

func encodePorts(ports []int) (string, error) {
	if ports == nil {
		ports = []int{}
	}
	raw, err := json.Marshal(ports)
	if err != nil {
		return "", fmt.Errorf("encode ports: %w", err)
	}
	return string(raw), nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
