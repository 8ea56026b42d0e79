package storage

import (
	"database/sql"

	"vgsi_scraper/models"
)

// Progress tracking. Every unit of crawl work has one row in
// scrape_progress keyed by task_id; the orchestrator seeds rows from
// the entity tables and the workers move them through
// pending -> in_progress -> done | failed.

// EnsureTask creates a pending progress row if none exists. Existing
// rows, whatever their status, are left alone.
func (s *SQLiteStore) EnsureTask(stage string, entityKey string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_progress (task_id, stage, entity_key)
		VALUES (?, ?, ?)
		ON CONFLICT(task_id) DO NOTHING`,
		models.TaskID(stage, entityKey), stage, entityKey)
	return err
}

func (s *SQLiteStore) IsDone(taskID string) (bool, error) {
	var status string
	err := s.db.QueryRow(`
		SELECT status FROM scrape_progress WHERE task_id = ?`, taskID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == models.TaskDone, nil
}

func (s *SQLiteStore) MarkInProgress(taskID string) error {
	return s.setStatus(taskID, models.TaskInProgress)
}

func (s *SQLiteStore) MarkDone(taskID string) error {
	return s.setStatus(taskID, models.TaskDone)
}

func (s *SQLiteStore) setStatus(taskID, status string) error {
	_, err := s.db.Exec(`
		UPDATE scrape_progress SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE task_id = ?`, status, taskID)
	return err
}

// MarkFailed records a task whose retries were exhausted. The task
// stays failed until RetryFailed or ResetStage requeues it.
func (s *SQLiteStore) MarkFailed(taskID, errMsg string, attempts int) error {
	_, err := s.db.Exec(`
		UPDATE scrape_progress SET
			status = ?, last_error = ?, attempts = ?, updated_at = CURRENT_TIMESTAMP
		WHERE task_id = ?`, models.TaskFailed, errMsg, attempts, taskID)
	return err
}

// PendingTasks returns up to limit pending tasks for a stage, in a
// stable order. limit <= 0 means no limit.
func (s *SQLiteStore) PendingTasks(stage string, limit int) ([]models.Task, error) {
	query := `
		SELECT task_id, stage, entity_key, status, attempts, last_error, updated_at
		FROM scrape_progress
		WHERE stage = ? AND status = ?
		ORDER BY entity_key`
	args := []interface{}{stage, models.TaskPending}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		var lastError sql.NullString
		if err := rows.Scan(&t.ID, &t.Stage, &t.EntityKey, &t.Status,
			&t.Attempts, &lastError, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.LastError = lastError.String
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// RequeueOrphans returns in_progress tasks to pending. Runs call this
// on startup so tasks stranded by a crash are picked up again.
func (s *SQLiteStore) RequeueOrphans(stage string) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE scrape_progress SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE stage = ? AND status = ?`,
		models.TaskPending, stage, models.TaskInProgress)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RetryFailed requeues every failed task of a stage.
func (s *SQLiteStore) RetryFailed(stage string) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE scrape_progress SET
			status = ?, attempts = 0, last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE stage = ? AND status = ?`,
		models.TaskPending, stage, models.TaskFailed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetStage requeues every task of a stage regardless of status.
// Collected entity data is kept; only progress is rewound.
func (s *SQLiteStore) ResetStage(stage string) error {
	_, err := s.db.Exec(`
		UPDATE scrape_progress SET
			status = ?, attempts = 0, last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE stage = ?`,
		models.TaskPending, stage)
	return err
}

// StageCounts reports per-stage task totals by status.
func (s *SQLiteStore) StageCounts() ([]models.StageCounts, error) {
	rows, err := s.db.Query(`
		SELECT stage, status, COUNT(*) FROM scrape_progress
		GROUP BY stage, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byStage := make(map[string]*models.StageCounts)
	for rows.Next() {
		var stage, status string
		var n int
		if err := rows.Scan(&stage, &status, &n); err != nil {
			return nil, err
		}
		sc, ok := byStage[stage]
		if !ok {
			sc = &models.StageCounts{Stage: stage}
			byStage[stage] = sc
		}
		switch status {
		case models.TaskPending:
			sc.Pending = n
		case models.TaskInProgress:
			sc.InProgress = n
		case models.TaskDone:
			sc.Done = n
		case models.TaskFailed:
			sc.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var counts []models.StageCounts
	for _, stage := range models.Stages {
		if sc, ok := byStage[stage]; ok {
			counts = append(counts, *sc)
		}
	}
	return counts, nil
}

// FailedTasks lists failed tasks for a stage, for status reporting.
func (s *SQLiteStore) FailedTasks(stage string, limit int) ([]models.Task, error) {
	rows, err := s.db.Query(`
		SELECT task_id, stage, entity_key, status, attempts, last_error, updated_at
		FROM scrape_progress
		WHERE stage = ? AND status = ?
		ORDER BY entity_key LIMIT ?`,
		stage, models.TaskFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		var lastError sql.NullString
		if err := rows.Scan(&t.ID, &t.Stage, &t.EntityKey, &t.Status,
			&t.Attempts, &lastError, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.LastError = lastError.String
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// --- Task seeding ---

// SeedListingTasks creates pending listing tasks for streets not yet
// scraped. Returns the number of tasks created.
func (s *SQLiteStore) SeedListingTasks() (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO scrape_progress (task_id, stage, entity_key)
		SELECT 'listing:' || name, 'listing', name
		FROM streets WHERE scraped = FALSE
		ON CONFLICT(task_id) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SeedDetailTasks creates pending detail tasks for parcels not yet
// scraped.
func (s *SQLiteStore) SeedDetailTasks() (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO scrape_progress (task_id, stage, entity_key)
		SELECT 'detail:' || parcel_id, 'detail', parcel_id
		FROM properties WHERE scraped = FALSE
		ON CONFLICT(task_id) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SeedMediaTasks creates pending media tasks for assets not yet
// downloaded.
func (s *SQLiteStore) SeedMediaTasks() (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO scrape_progress (task_id, stage, entity_key)
		SELECT 'media:' || id, 'media', id
		FROM media_assets WHERE downloaded = FALSE
		ON CONFLICT(task_id) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Scrape runs ---

func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) error {
	res, err := s.db.Exec(`
		INSERT INTO scrape_runs (run_uid, scope, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.RunUID, run.Scope, run.StartedAt, run.Status)
	if err != nil {
		return err
	}
	run.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) UpdateRun(run *models.ScrapeRun) error {
	var finished interface{}
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	_, err := s.db.Exec(`
		UPDATE scrape_runs SET
			finished_at = ?, status = ?, succeeded = ?, soft_failed = ?, error_message = ?
		WHERE id = ?`,
		finished, run.Status, run.Succeeded, run.SoftFailed, run.ErrorsMsg, run.ID)
	return err
}

func (s *SQLiteStore) LatestRun() (*models.ScrapeRun, error) {
	row := s.db.QueryRow(`
		SELECT id, run_uid, scope, started_at, finished_at, status,
			succeeded, soft_failed, error_message
		FROM scrape_runs ORDER BY id DESC LIMIT 1`)

	var run models.ScrapeRun
	var finishedAt sql.NullTime
	var errMsg sql.NullString
	err := row.Scan(&run.ID, &run.RunUID, &run.Scope, &run.StartedAt,
		&finishedAt, &run.Status, &run.Succeeded, &run.SoftFailed, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	run.ErrorsMsg = errMsg.String
	return &run, nil
}
