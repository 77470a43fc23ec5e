package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/minder/internal/domain/task"
	"github.com/example/minder/internal/storage"
)

const taskColumns = "id, title, body, status, priority, due_at, do_not_start_before, source, source_ref, dedup_group_id, labels, project, blocked_by, explanations, created_at, updated_at, completed_at"

// PutTask upserts a task row keyed by id.
func (s *Store) PutTask(ctx context.Context, t storage.TaskRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task id is required")
	}

	labels, err := marshalStrings(t.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	blockedBy, err := marshalStrings(t.BlockedBy)
	if err != nil {
		return fmt.Errorf("marshal blocked_by: %w", err)
	}
	explanations, err := json.Marshal(explanationsOrEmpty(t.Explanations))
	if err != nil {
		return fmt.Errorf("marshal explanations: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     title = excluded.title,
		     body = excluded.body,
		     status = excluded.status,
		     priority = excluded.priority,
		     due_at = excluded.due_at,
		     do_not_start_before = excluded.do_not_start_before,
		     source = excluded.source,
		     source_ref = excluded.source_ref,
		     dedup_group_id = excluded.dedup_group_id,
		     labels = excluded.labels,
		     project = excluded.project,
		     blocked_by = excluded.blocked_by,
		     explanations = excluded.explanations,
		     created_at = excluded.created_at,
		     updated_at = excluded.updated_at,
		     completed_at = excluded.completed_at`,
		t.ID,
		t.Title,
		t.Body,
		string(t.Status),
		string(t.Priority),
		toNullMillis(t.DueAt),
		toNullMillis(t.DoNotStartBefore),
		t.Source,
		t.SourceRef,
		t.DedupGroupID,
		labels,
		t.Project,
		blockedBy,
		string(explanations),
		toMillis(t.CreatedAt),
		toMillis(t.UpdatedAt),
		toNullMillis(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	return nil
}

// GetTask returns a task by id. Returns storage.ErrNotFound when missing.
func (s *Store) GetTask(ctx context.Context, taskID string) (storage.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TaskRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TaskRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(taskID) == "" {
		return storage.TaskRecord{}, fmt.Errorf("task id is required")
	}

	row := s.q.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", taskID)
	return scanTask(row)
}

// GetTaskBySourceRef returns the task holding the (source, source_ref) pair.
func (s *Store) GetTaskBySourceRef(ctx context.Context, source, sourceRef string) (storage.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TaskRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TaskRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(source) == "" || strings.TrimSpace(sourceRef) == "" {
		return storage.TaskRecord{}, fmt.Errorf("source and source ref are required")
	}

	row := s.q.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE source = ? AND source_ref = ?",
		source, sourceRef,
	)
	return scanTask(row)
}

var taskSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"due_at":     "due_at",
	"priority":   "priority",
	"title":      "title",
}

// ListTasks returns tasks narrowed by the filter.
func (s *Store) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]storage.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	where := []string{"1=1"}
	var params []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		params = append(params, string(filter.Status))
	}
	if filter.Project != "" {
		where = append(where, "project = ?")
		params = append(params, filter.Project)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(body) LIKE ?)")
		pattern := "%" + strings.ToLower(search) + "%"
		params = append(params, pattern, pattern)
	}

	sortColumn, ok := taskSortColumns[filter.SortBy]
	if !ok {
		sortColumn = "updated_at"
	}
	sortDir := "DESC"
	if strings.EqualFold(filter.SortDir, "asc") {
		sortDir = "ASC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	params = append(params, int64(limit), int64(offset))

	query := fmt.Sprintf(
		"SELECT %s FROM tasks WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?",
		taskColumns, strings.Join(where, " AND "), sortColumn, sortDir,
	)
	rows, err := s.q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByDedupGroup returns tasks sharing a dedup group, oldest first.
func (s *Store) ListTasksByDedupGroup(ctx context.Context, groupID string) ([]storage.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(groupID) == "" {
		return nil, fmt.Errorf("dedup group id is required")
	}

	rows, err := s.q.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE dedup_group_id = ? ORDER BY created_at ASC",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by dedup group: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListSnoozedDue returns snoozed tasks whose wake gate has passed.
func (s *Store) ListSnoozedDue(ctx context.Context, now time.Time) ([]storage.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.q.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE status = ? AND do_not_start_before IS NOT NULL AND do_not_start_before <= ? ORDER BY do_not_start_before ASC",
		string(task.StatusSnoozed), toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list snoozed due: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTask(row *sql.Row) (storage.TaskRecord, error) {
	t, err := scanTaskFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.TaskRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.TaskRecord{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]storage.TaskRecord, error) {
	var tasks []storage.TaskRecord
	for rows.Next() {
		t, err := scanTaskFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func scanTaskFrom(scanner rowScanner) (storage.TaskRecord, error) {
	var t storage.TaskRecord
	var status, priority, labels, blockedBy, explanations string
	var dueAt, doNotStartBefore, completedAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := scanner.Scan(
		&t.ID,
		&t.Title,
		&t.Body,
		&status,
		&priority,
		&dueAt,
		&doNotStartBefore,
		&t.Source,
		&t.SourceRef,
		&t.DedupGroupID,
		&labels,
		&t.Project,
		&blockedBy,
		&explanations,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return storage.TaskRecord{}, err
	}
	t.Status = task.Status(status)
	t.Priority = task.Priority(priority)
	t.DueAt = fromNullMillis(dueAt)
	t.DoNotStartBefore = fromNullMillis(doNotStartBefore)
	t.CompletedAt = fromNullMillis(completedAt)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(labels), &t.Labels); err != nil {
		return storage.TaskRecord{}, fmt.Errorf("unmarshal labels: %w", err)
	}
	if err := json.Unmarshal([]byte(blockedBy), &t.BlockedBy); err != nil {
		return storage.TaskRecord{}, fmt.Errorf("unmarshal blocked_by: %w", err)
	}
	if err := json.Unmarshal([]byte(explanations), &t.Explanations); err != nil {
		return storage.TaskRecord{}, fmt.Errorf("unmarshal explanations: %w", err)
	}
	return t, nil
}

func marshalStrings(values []string) (string, error) {
	data, err := json.Marshal(refsOrEmpty(values))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func explanationsOrEmpty(entries []storage.Explanation) []storage.Explanation {
	if entries == nil {
		return []storage.Explanation{}
	}
	return entries
}
