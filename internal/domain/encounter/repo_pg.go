package encounter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/triage/internal/domain/queue"
	"github.com/ehr/triage/internal/domain/triage"
	"github.com/ehr/triage/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const encounterCols = `id, seq, facility_id, patient_ref, arrival_time, status,
	presentation_id, answers, vitals, age_months, is_pregnant, gestational_weeks,
	tier, reason, recommendations, clinical_override, override_reason,
	queue_position, estimated_wait_minutes, triaged_at, called_at, closed_at,
	created_at, updated_at`

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var (
		e            Encounter
		presentation *string
		reason       *string
		tier         *int16
	)
	err := row.Scan(&e.ID, &e.Seq, &e.FacilityID, &e.PatientRef, &e.ArrivalTime, &e.Status,
		&presentation, &e.Answers, &e.Vitals, &e.AgeMonths, &e.IsPregnant, &e.GestationalWeeks,
		&tier, &reason, &e.Recommendations, &e.ClinicalOverride, &e.OverrideReason,
		&e.QueuePosition, &e.EstimatedWaitMinutes, &e.TriagedAt, &e.CalledAt, &e.ClosedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if presentation != nil {
		e.PresentationID = *presentation
	}
	if reason != nil {
		e.Reason = *reason
	}
	if tier != nil {
		t := triage.Tier(*tier)
		e.Tier = &t
	}
	return &e, nil
}

func tierParam(t *triage.Tier) *int16 {
	if t == nil {
		return nil
	}
	v := int16(*t)
	return &v
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func jsonObject[M ~map[string]V, V any](m M) M {
	if m == nil {
		return M{}
	}
	return m
}

func (r *repoPG) Create(ctx context.Context, e *Encounter) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO encounters (id, facility_id, patient_ref, arrival_time, status, presentation_id,
			answers, vitals, age_months, is_pregnant, gestational_weeks)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING seq, created_at, updated_at`,
		e.ID, e.FacilityID, e.PatientRef, e.ArrivalTime, e.Status, nullable(e.PresentationID),
		jsonObject(e.Answers), jsonObject(e.Vitals), e.AgeMonths, e.IsPregnant, e.GestationalWeeks,
	).Scan(&e.Seq, &e.CreatedAt, &e.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return getByID(ctx, r.pool, id)
}

func getByID(ctx context.Context, q queryable, id uuid.UUID) (*Encounter, error) {
	return scanEncounter(q.QueryRow(ctx, `SELECT `+encounterCols+` FROM encounters WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Encounter, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.FacilityID != "" {
		where += fmt.Sprintf(` AND facility_id = $%d`, idx)
		args = append(args, f.FacilityID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM encounters`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM encounters%s ORDER BY seq DESC LIMIT $%d OFFSET $%d`,
		encounterCols, where, idx, idx+1)
	items, err := queryEncounters(ctx, r.pool, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListWaiting(ctx context.Context, facilityID string) ([]*Encounter, error) {
	return listWaiting(ctx, r.pool, facilityID)
}

func listWaiting(ctx context.Context, q queryable, facilityID string) ([]*Encounter, error) {
	return queryEncounters(ctx, q,
		`SELECT `+encounterCols+` FROM encounters WHERE facility_id = $1 AND status = $2 ORDER BY tier, arrival_time, seq`,
		facilityID, StatusWaiting)
}

func queryEncounters(ctx context.Context, q queryable, sql string, args ...interface{}) ([]*Encounter, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// InFacility holds pg_advisory_xact_lock on the facility for the duration of
// the transaction.
func (r *repoPG) InFacility(ctx context.Context, facilityID string, fn func(tx Tx) error) error {
	return db.WithAdvisoryLock(ctx, r.pool, "facility:"+facilityID, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return getByID(ctx, t.tx, id)
}

func (t *pgTx) Update(ctx context.Context, e *Encounter) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE encounters SET status=$2, presentation_id=$3, answers=$4, vitals=$5, age_months=$6,
			is_pregnant=$7, gestational_weeks=$8, tier=$9, reason=$10, recommendations=$11,
			clinical_override=$12, override_reason=$13, queue_position=$14, estimated_wait_minutes=$15,
			triaged_at=$16, called_at=$17, closed_at=$18, updated_at=NOW()
		WHERE id = $1`,
		e.ID, e.Status, nullable(e.PresentationID), jsonObject(e.Answers), jsonObject(e.Vitals), e.AgeMonths,
		e.IsPregnant, e.GestationalWeeks, tierParam(e.Tier), nullable(e.Reason), nonNil(e.Recommendations),
		e.ClinicalOverride, e.OverrideReason, e.QueuePosition, e.EstimatedWaitMinutes,
		e.TriagedAt, e.CalledAt, e.ClosedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListWaiting(ctx context.Context, facilityID string) ([]*Encounter, error) {
	return listWaiting(ctx, t.tx, facilityID)
}

func (t *pgTx) UpdatePlacements(ctx context.Context, placements []queue.Placement) error {
	if len(placements) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range placements {
		batch.Queue(`UPDATE encounters SET queue_position=$2, estimated_wait_minutes=$3 WHERE id = $1`,
			p.ID, p.Position, p.EstimatedWaitMinutes)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
