package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LogPageSize is the fixed window for activity log pagination.
const LogPageSize = 15

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

const userColumns = `id, display_name, email, avatar_url, password_hash, role, domain,
	role_record_id, is_email_verified, COALESCE(verification_token, ''), verification_expires_at,
	created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.AvatarURL, &user.PasswordHash,
		&user.Role, &user.Domain, &user.RoleRecordID, &user.IsEmailVerified,
		&user.VerificationToken, &user.VerificationExpiresAt, &user.CreatedAt, &user.UpdatedAt,
	)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, avatar_url, password_hash, role, domain, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8, $9, $10)
	`, user.ID, user.DisplayName, user.Email, user.AvatarURL, user.PasswordHash,
		user.Role, user.Domain, user.IsEmailVerified, nullIfEmpty(user.VerificationToken), user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, email)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token = $2, verification_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = NULL, verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token = $1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// UpdateUserAssignment syncs the stored role/domain with the directory
// resolution made at sign-in.
func (s *PostgresStore) UpdateUserAssignment(ctx context.Context, userID, role, domain string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET role = $2, domain = $3, updated_at = NOW() WHERE id = $1`, userID, role, domain)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, displayName, avatarURL string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET display_name = $2, avatar_url = $3, updated_at = NOW() WHERE id = $1
	`, userID, displayName, avatarURL)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetUserRoleRecord(ctx context.Context, userID string, roleRecordID *string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role_record_id = $2, updated_at = NOW() WHERE id = $1`, userID, roleRecordID)
	if err != nil {
		return fmt.Errorf("set role record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set role record rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetUserGrants returns the permission names of the user's attached role
// record; nil when no record is attached.
func (s *PostgresStore) GetUserGrants(ctx context.Context, userID string) ([]string, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT r.permissions FROM users u
		JOIN role_records r ON r.id = u.role_record_id
		WHERE u.id = $1
	`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read grants: %w", err)
	}
	return decodeStrings(raw)
}

// ── Password resets ──

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token = $1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at = NOW() WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	return nil
}

// ── Role records ──

func (s *PostgresStore) ListRoleRecords(ctx context.Context) ([]RoleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, permissions, created_at, updated_at FROM role_records ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list role records: %w", err)
	}
	defer rows.Close()

	var records []RoleRecord
	for rows.Next() {
		record, err := scanRoleRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) GetRoleRecord(ctx context.Context, id string) (RoleRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, permissions, created_at, updated_at FROM role_records WHERE id = $1`, id)
	return scanRoleRecord(row)
}

func scanRoleRecord(row interface{ Scan(...any) error }) (RoleRecord, error) {
	var record RoleRecord
	var raw []byte
	if err := row.Scan(&record.ID, &record.Name, &raw, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return RoleRecord{}, err
	}
	permissions, err := decodeStrings(raw)
	if err != nil {
		return RoleRecord{}, err
	}
	record.Permissions = permissions
	return record, nil
}

func (s *PostgresStore) InsertRoleRecord(ctx context.Context, record RoleRecord) error {
	raw, err := encodeStrings(record.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO role_records (id, name, permissions) VALUES ($1, $2, $3)
	`, record.ID, record.Name, raw)
	if err != nil {
		return fmt.Errorf("insert role record: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRoleRecord(ctx context.Context, record RoleRecord) error {
	raw, err := encodeStrings(record.Permissions)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE role_records SET name = $2, permissions = $3, updated_at = NOW() WHERE id = $1
	`, record.ID, record.Name, raw)
	if err != nil {
		return fmt.Errorf("update role record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update role record rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteRoleRecord(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete role record: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE users SET role_record_id = NULL WHERE role_record_id = $1`, id); err != nil {
		return fmt.Errorf("detach role record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_records WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete role record: %w", err)
	}
	return tx.Commit()
}

// ── Domains and special roles ──

func (s *PostgresStore) ListDomains(ctx context.Context) ([]Domain, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, lead_email, members, created_at, updated_at FROM domains ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var domains []Domain
	for rows.Next() {
		domain, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		domains = append(domains, domain)
	}
	return domains, rows.Err()
}

func (s *PostgresStore) GetDomain(ctx context.Context, name string) (Domain, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, lead_email, members, created_at, updated_at FROM domains WHERE name = $1`, name)
	return scanDomain(row)
}

func scanDomain(row interface{ Scan(...any) error }) (Domain, error) {
	var domain Domain
	var raw []byte
	if err := row.Scan(&domain.Name, &domain.Lead, &raw, &domain.CreatedAt, &domain.UpdatedAt); err != nil {
		return Domain{}, err
	}
	members, err := decodeStrings(raw)
	if err != nil {
		return Domain{}, err
	}
	domain.Members = members
	return domain, nil
}

func (s *PostgresStore) InsertDomain(ctx context.Context, domain Domain) error {
	raw, err := encodeStrings(domain.Members)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO domains (name, lead_email, members) VALUES ($1, LOWER($2), $3)
	`, domain.Name, domain.Lead, raw)
	if err != nil {
		return fmt.Errorf("insert domain: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDomainRoster(ctx context.Context, name, lead string, members []string) error {
	raw, err := encodeStrings(members)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE domains SET lead_email = LOWER($2), members = $3, updated_at = NOW() WHERE name = $1
	`, name, lead, raw)
	if err != nil {
		return fmt.Errorf("update domain roster: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update domain roster rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListSpecialRoles(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, role FROM special_roles`)
	if err != nil {
		return nil, fmt.Errorf("list special roles: %w", err)
	}
	defer rows.Close()

	special := make(map[string]string)
	for rows.Next() {
		var email, role string
		if err := rows.Scan(&email, &role); err != nil {
			return nil, fmt.Errorf("scan special role: %w", err)
		}
		special[email] = role
	}
	return special, rows.Err()
}

func (s *PostgresStore) UpsertSpecialRole(ctx context.Context, email, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO special_roles (email, role) VALUES (LOWER($1), $2)
		ON CONFLICT (email) DO UPDATE SET role = EXCLUDED.role
	`, email, role)
	if err != nil {
		return fmt.Errorf("upsert special role: %w", err)
	}
	return nil
}

// ── Tasks ──

const taskColumns = `t.id, t.title, t.description, t.domain, t.due_date, COALESCE(t.attachment_key, ''),
	t.assigned_to_lead, t.created_by, t.created_at, t.updated_at`

// InsertTask writes the task row and its assignee rows in one transaction so
// a task is never visible with a partial assignee list.
func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert task: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, domain, due_date, attachment_key, assigned_to_lead, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, task.ID, task.Title, task.Description, task.Domain, task.DueDate,
		nullIfEmpty(task.AttachmentKey), task.AssignedToLead, task.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	for _, assignee := range task.Assignees {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_assignees (task_id, email) VALUES ($1, LOWER($2))
		`, task.ID, assignee); err != nil {
			return fmt.Errorf("insert assignee %s: %w", assignee, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update task: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE tasks SET title = $2, description = $3, domain = $4, due_date = $5,
			attachment_key = $6, assigned_to_lead = $7, updated_at = NOW()
		WHERE id = $1
	`, task.ID, task.Title, task.Description, task.Domain, task.DueDate,
		nullIfEmpty(task.AttachmentKey), task.AssignedToLead)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id = $1`, task.ID); err != nil {
		return fmt.Errorf("clear assignees: %w", err)
	}
	for _, assignee := range task.Assignees {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_assignees (task_id, email) VALUES ($1, LOWER($2))
		`, task.ID, assignee); err != nil {
			return fmt.Errorf("insert assignee %s: %w", assignee, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = $1`, taskID)
	task, err := scanTask(row)
	if err != nil {
		return Task{}, err
	}
	assignees, err := s.taskAssignees(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	task.Assignees = assignees
	return task, nil
}

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var task Task
	err := row.Scan(&task.ID, &task.Title, &task.Description, &task.Domain, &task.DueDate,
		&task.AttachmentKey, &task.AssignedToLead, &task.CreatedBy, &task.CreatedAt, &task.UpdatedAt)
	return task, err
}

func (s *PostgresStore) taskAssignees(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email FROM task_assignees WHERE task_id = $1 ORDER BY email`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()

	var assignees []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		assignees = append(assignees, email)
	}
	return assignees, rows.Err()
}

func (s *PostgresStore) ListTasks(ctx context.Context) ([]Task, error) {
	return s.listTasksWhere(ctx, ``)
}

func (s *PostgresStore) ListTasksByDomain(ctx context.Context, domain string) ([]Task, error) {
	return s.listTasksWhere(ctx, `WHERE t.domain = $1`, domain)
}

func (s *PostgresStore) ListTasksForAssignee(ctx context.Context, email string) ([]Task, error) {
	return s.listTasksWhere(ctx, `WHERE EXISTS (SELECT 1 FROM task_assignees a WHERE a.task_id = t.id AND a.email = LOWER($1))`, email)
}

func (s *PostgresStore) listTasksWhere(ctx context.Context, where string, args ...any) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t ` + where + ` ORDER BY t.created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tasks {
		assignees, err := s.taskAssignees(ctx, tasks[i].ID)
		if err != nil {
			return nil, err
		}
		tasks[i].Assignees = assignees
	}
	return tasks, nil
}

// ── Submissions ──

const submissionColumns = `id, task_id, author, content_key, COALESCE(note, ''), quality_score, COALESCE(rated_by, ''), submitted_at, rated_at`

func (s *PostgresStore) InsertSubmission(ctx context.Context, submission Submission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, task_id, author, content_key, note)
		VALUES ($1, $2, LOWER($3), $4, $5)
	`, submission.ID, submission.TaskID, submission.Author, submission.ContentKey, nullIfEmpty(submission.Note))
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, taskID, submissionID string) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions WHERE id = $1 AND task_id = $2
	`, submissionID, taskID)
	return scanSubmission(row)
}

func scanSubmission(row interface{ Scan(...any) error }) (Submission, error) {
	var sub Submission
	err := row.Scan(&sub.ID, &sub.TaskID, &sub.Author, &sub.ContentKey, &sub.Note,
		&sub.QualityScore, &sub.RatedBy, &sub.SubmittedAt, &sub.RatedAt)
	return sub, err
}

func (s *PostgresStore) RateSubmission(ctx context.Context, taskID, submissionID string, score int, ratedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE submissions SET quality_score = $3, rated_by = $4, rated_at = NOW()
		WHERE id = $1 AND task_id = $2
	`, submissionID, taskID, score, ratedBy)
	if err != nil {
		return fmt.Errorf("rate submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rate submission rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, taskID string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions WHERE task_id = $1 ORDER BY submitted_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return collectSubmissions(rows)
}

func (s *PostgresStore) ListAllSubmissions(ctx context.Context) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+submissionColumns+` FROM submissions ORDER BY submitted_at`)
	if err != nil {
		return nil, fmt.Errorf("list all submissions: %w", err)
	}
	return collectSubmissions(rows)
}

func collectSubmissions(rows *sql.Rows) ([]Submission, error) {
	defer rows.Close()
	var submissions []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		submissions = append(submissions, sub)
	}
	return submissions, rows.Err()
}

// ── Suggestions ──

const suggestionColumns = `id, title, description, category, priority, status, submitted_by, anonymous, created_at, updated_at`

func (s *PostgresStore) InsertSuggestion(ctx context.Context, suggestion Suggestion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suggestions (id, title, description, category, priority, status, submitted_by, anonymous)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, suggestion.ID, suggestion.Title, suggestion.Description, suggestion.Category,
		suggestion.Priority, suggestion.Status, suggestion.SubmittedBy, suggestion.Anonymous)
	if err != nil {
		return fmt.Errorf("insert suggestion: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSuggestion(ctx context.Context, id string) (Suggestion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = $1`, id)
	return scanSuggestion(row)
}

func scanSuggestion(row interface{ Scan(...any) error }) (Suggestion, error) {
	var sg Suggestion
	err := row.Scan(&sg.ID, &sg.Title, &sg.Description, &sg.Category, &sg.Priority,
		&sg.Status, &sg.SubmittedBy, &sg.Anonymous, &sg.CreatedAt, &sg.UpdatedAt)
	return sg, err
}

func (s *PostgresStore) ListSuggestions(ctx context.Context) ([]Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		suggestions = append(suggestions, sg)
	}
	return suggestions, rows.Err()
}

func (s *PostgresStore) UpdateSuggestionStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE suggestions SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update suggestion status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update suggestion rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertSuggestionResponse(ctx context.Context, response SuggestionResponse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suggestion_responses (id, suggestion_id, author, text) VALUES ($1, $2, $3, $4)
	`, response.ID, response.SuggestionID, response.Author, response.Text)
	if err != nil {
		return fmt.Errorf("insert suggestion response: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSuggestionResponses(ctx context.Context, suggestionID string) ([]SuggestionResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suggestion_id, author, text, created_at FROM suggestion_responses
		WHERE suggestion_id = $1 ORDER BY created_at
	`, suggestionID)
	if err != nil {
		return nil, fmt.Errorf("list suggestion responses: %w", err)
	}
	defer rows.Close()

	var responses []SuggestionResponse
	for rows.Next() {
		var response SuggestionResponse
		if err := rows.Scan(&response.ID, &response.SuggestionID, &response.Author, &response.Text, &response.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suggestion response: %w", err)
		}
		responses = append(responses, response)
	}
	return responses, rows.Err()
}

// ── Announcements ──

const announcementColumns = `id, title, content, COALESCE(attachment_key, ''), audience, status, author, published_at, created_at, updated_at`

func (s *PostgresStore) InsertAnnouncement(ctx context.Context, announcement Announcement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO announcements (id, title, content, attachment_key, audience, status, author)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, announcement.ID, announcement.Title, announcement.Content, nullIfEmpty(announcement.AttachmentKey),
		announcement.Audience, announcement.Status, announcement.Author)
	if err != nil {
		return fmt.Errorf("insert announcement: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnnouncement(ctx context.Context, id string) (Announcement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE id = $1`, id)
	return scanAnnouncement(row)
}

func scanAnnouncement(row interface{ Scan(...any) error }) (Announcement, error) {
	var a Announcement
	err := row.Scan(&a.ID, &a.Title, &a.Content, &a.AttachmentKey, &a.Audience,
		&a.Status, &a.Author, &a.PublishedAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *PostgresStore) ListAnnouncements(ctx context.Context) ([]Announcement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+announcementColumns+` FROM announcements ORDER BY COALESCE(published_at, created_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	defer rows.Close()

	var announcements []Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		announcements = append(announcements, a)
	}
	return announcements, rows.Err()
}

func (s *PostgresStore) UpdateAnnouncementStatus(ctx context.Context, id, status string, publishedAt *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE announcements SET status = $2, published_at = COALESCE($3, published_at), updated_at = NOW()
		WHERE id = $1
	`, id, status, publishedAt)
	if err != nil {
		return fmt.Errorf("update announcement status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update announcement rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteAnnouncement(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete announcement rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ── Documentation ──

const docItemColumns = `id, name, kind, parent_id, COALESCE(storage_key, ''), COALESCE(mime_type, ''), viewable_by, created_by, created_at, updated_at`

func (s *PostgresStore) InsertDocItem(ctx context.Context, item DocItem) error {
	raw, err := encodeStrings(item.ViewableBy)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO doc_items (id, name, kind, parent_id, storage_key, mime_type, viewable_by, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.Name, item.Kind, item.ParentID, nullIfEmpty(item.StorageKey),
		nullIfEmpty(item.MimeType), raw, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert doc item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocItem(ctx context.Context, id string) (DocItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+docItemColumns+` FROM doc_items WHERE id = $1`, id)
	return scanDocItem(row)
}

func scanDocItem(row interface{ Scan(...any) error }) (DocItem, error) {
	var item DocItem
	var raw []byte
	if err := row.Scan(&item.ID, &item.Name, &item.Kind, &item.ParentID, &item.StorageKey,
		&item.MimeType, &raw, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return DocItem{}, err
	}
	viewableBy, err := decodeStrings(raw)
	if err != nil {
		return DocItem{}, err
	}
	item.ViewableBy = viewableBy
	return item, nil
}

func (s *PostgresStore) ListDocItems(ctx context.Context) ([]DocItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+docItemColumns+` FROM doc_items ORDER BY kind DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list doc items: %w", err)
	}
	defer rows.Close()

	var items []DocItem
	for rows.Next() {
		item, err := scanDocItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan doc item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteDocItems removes a set of documentation rows in one transaction.
// Callers pass the full descendant closure of a folder so the tree never
// ends up half-deleted.
func (s *PostgresStore) DeleteDocItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete doc items: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM doc_items WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete doc item %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ── Activity log ──

func (s *PostgresStore) InsertLog(ctx context.Context, entry LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (message, category, actor_email, actor_name, actor_role)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.Message, entry.Category, entry.ActorEmail, entry.ActorName, entry.ActorRole)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// ListLogs returns one keyset-paginated page, newest first. An empty cursor
// means the first page; going backward past the first page is the caller
// re-issuing an empty cursor.
func (s *PostgresStore) ListLogs(ctx context.Context, cursor string) (LogPage, error) {
	query := `
		SELECT id, message, category, actor_email, actor_name, actor_role, created_at
		FROM activity_log
	`
	args := []any{}
	if cursor != "" {
		createdAt, id, err := DecodeLogCursor(cursor)
		if err != nil {
			return LogPage{}, err
		}
		query += ` WHERE (created_at, id) < ($1, $2)`
		args = append(args, createdAt, id)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, LogPageSize+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return LogPage{}, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		if err := rows.Scan(&entry.ID, &entry.Message, &entry.Category,
			&entry.ActorEmail, &entry.ActorName, &entry.ActorRole, &entry.CreatedAt); err != nil {
			return LogPage{}, fmt.Errorf("scan log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return LogPage{}, err
	}

	return paginateLogs(entries), nil
}

// paginateLogs turns an overfetched result set (up to LogPageSize+1 rows,
// newest first) into one page. A row past the page size means another page
// exists; the cursor points at the last row kept.
func paginateLogs(entries []LogEntry) LogPage {
	page := LogPage{Entries: entries}
	if len(entries) > LogPageSize {
		page.Entries = entries[:LogPageSize]
		page.HasMore = true
		last := page.Entries[len(page.Entries)-1]
		page.NextCursor = EncodeLogCursor(last.CreatedAt, last.ID)
	}
	return page
}

// EncodeLogCursor packs the keyset position (created_at, id) into an opaque
// cursor string.
func EncodeLogCursor(createdAt time.Time, id int64) string {
	raw := fmt.Sprintf("%d|%d", createdAt.UTC().UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ErrInvalidCursor is returned for a malformed pagination cursor.
var ErrInvalidCursor = errors.New("invalid cursor")

// DecodeLogCursor reverses EncodeLogCursor.
func DecodeLogCursor(cursor string) (time.Time, int64, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, 0, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}
	return time.Unix(0, nanos).UTC(), id, nil
}

// ── Auth sessions (refresh tokens + access token revocation) ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions WHERE token_hash = $1 AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return User{}, err
	}
	return s.GetUserByID(ctx, userID)
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1 AND expires_at > NOW())
	`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// ── helpers ──

func encodeStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode string list: %w", err)
	}
	return raw, nil
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	return values, nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
