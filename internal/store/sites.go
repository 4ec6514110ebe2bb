package store

import (
	"context"

	"github.com/hitushen/netwatch/internal/models"
)

const siteColumns = `
	s.id, s.index_number, s.name, s.province, s.district, s.created_by, s.created_at,
	(SELECT COUNT(1) FROM devices d WHERE d.site_id = s.id) AS device_count`

// ListSites 按名称返回全部站点及其设备数量。
func (s *Store) ListSites(ctx context.Context) ([]models.Site, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+siteColumns+` FROM sites s ORDER BY s.name ASC, s.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []models.Site
	for rows.Next() {
		var site models.Site
		if err := rows.Scan(&site.ID, &site.IndexNumber, &site.Name, &site.Province, &site.District, &site.CreatedBy, &site.CreatedAt, &site.DeviceCount); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// GetSite 根据 ID 获取站点。
func (s *Store) GetSite(ctx context.Context, id int64) (*models.Site, error) {
	var site models.Site
	err := s.DB.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites s WHERE s.id = ?`, id).
		Scan(&site.ID, &site.IndexNumber, &site.Name, &site.Province, &site.District, &site.CreatedBy, &site.CreatedAt, &site.DeviceCount)
	if err != nil {
		return nil, mapErr(err)
	}
	return &site, nil
}

// CreateSite 新建站点，索引号重复时返回 ErrConflict。
func (s *Store) CreateSite(ctx context.Context, site models.Site) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO sites (index_number, name, province, district, created_by) VALUES (?, ?, ?, ?, ?)`,
		site.IndexNumber, site.Name, site.Province, site.District, site.CreatedBy,
	)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.LastInsertId()
}

// DeleteSite 删除站点及其下的全部设备。
func (s *Store) DeleteSite(ctx context.Context, id int64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE site_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
