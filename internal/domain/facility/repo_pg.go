package facility

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const facilityCols = `id, name, type, latitude, longitude, occupancy_percent, average_wait_minutes,
	resources, specialties, accepts_emergencies, accepts_walkins, is_24h, active,
	phone, address, created_at, updated_at`

func scanFacility(row pgx.Row) (*Facility, error) {
	var f Facility
	err := row.Scan(&f.ID, &f.Name, &f.Type, &f.Latitude, &f.Longitude, &f.OccupancyPercent, &f.AverageWaitMinutes,
		&f.Resources, &f.Specialties, &f.AcceptsEmergencies, &f.AcceptsWalkins, &f.Is24h, &f.Active,
		&f.Phone, &f.Address, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &f, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *repoPG) Create(ctx context.Context, f *Facility) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO facilities (id, name, type, latitude, longitude, occupancy_percent, average_wait_minutes,
			resources, specialties, accepts_emergencies, accepts_walkins, is_24h, active, phone, address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		f.ID, f.Name, f.Type, f.Latitude, f.Longitude, f.OccupancyPercent, f.AverageWaitMinutes,
		nonNil(f.Resources), nonNil(f.Specialties), f.AcceptsEmergencies, f.AcceptsWalkins, f.Is24h, f.Active,
		f.Phone, f.Address,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*Facility, error) {
	return scanFacility(r.pool.QueryRow(ctx, `SELECT `+facilityCols+` FROM facilities WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, f *Facility) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE facilities SET name=$2, type=$3, latitude=$4, longitude=$5, occupancy_percent=$6,
			average_wait_minutes=$7, resources=$8, specialties=$9, accepts_emergencies=$10,
			accepts_walkins=$11, is_24h=$12, active=$13, phone=$14, address=$15, updated_at=NOW()
		WHERE id = $1`,
		f.ID, f.Name, f.Type, f.Latitude, f.Longitude, f.OccupancyPercent,
		f.AverageWaitMinutes, nonNil(f.Resources), nonNil(f.Specialties), f.AcceptsEmergencies,
		f.AcceptsWalkins, f.Is24h, f.Active, f.Phone, f.Address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM facilities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Facility, int, error) {
	where := ""
	if activeOnly {
		where = ` WHERE active`
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM facilities`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.query(ctx,
		fmt.Sprintf(`SELECT %s FROM facilities%s ORDER BY name, id LIMIT $1 OFFSET $2`, facilityCols, where),
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListActive(ctx context.Context) ([]*Facility, error) {
	return r.query(ctx, `SELECT `+facilityCols+` FROM facilities WHERE active ORDER BY id`)
}

func (r *repoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Facility, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}
