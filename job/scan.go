package job

import (
	"database/sql"
)

// jobScanArgs holds the nullable columns scanned alongside a job row.
type jobScanArgs struct {
	ErrorMsg    sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// scanTargets returns scan destinations for the job and its nullable
// columns, in the order of selectColumns.
func scanTargets(j *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&j.ID,
		&j.CampaignID,
		&j.Type,
		&j.Service,
		&j.Status,
		&args.ErrorMsg,
		&j.RetryCount,
		&j.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&j.UpdatedAt,
	}
}

// applyScanArgs copies the scanned nullable columns into the job struct.
func applyScanArgs(j *Job, args *jobScanArgs) {
	if args.ErrorMsg.Valid {
		j.Error = args.ErrorMsg.String
	}
	if args.StartedAt.Valid {
		j.StartedAt = &args.StartedAt.Time
	}
	if args.CompletedAt.Valid {
		j.CompletedAt = &args.CompletedAt.Time
	}
}

// scanJobFromRows scans a single job from sql.Rows (for use in loops).
func scanJobFromRows(rows *sql.Rows, j *Job) error {
	args := &jobScanArgs{}
	if err := rows.Scan(scanTargets(j, args)...); err != nil {
		return err
	}
	applyScanArgs(j, args)
	return nil
}

// selectColumns is the standard column list for job SELECT queries.
const selectColumns = `id, campaign_id, type, service, status, error, retry_count,
	created_at, started_at, completed_at, updated_at`
