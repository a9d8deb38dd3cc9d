package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"time"

	"taskhub/api/internal/blob"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

// TaskInput is the write shape for creating and updating tasks.
type TaskInput struct {
	Title          string
	Description    string
	Domain         string
	DueDate        string
	Assignees      []string
	AssignedToLead bool
	AttachmentKey  string
}

// SubmissionInput is one piece of submitted work.
type SubmissionInput struct {
	ContentKey string
	Note       string
}

// LeaderboardEntry is one row of the quality-score ranking. Only rated
// submissions count; a score of zero means unrated and is excluded.
type LeaderboardEntry struct {
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	Domain       string  `json:"domain"`
	RatedCount   int     `json:"ratedCount"`
	AverageScore float64 `json:"averageScore"`
}

func (s *Service) validateTaskInput(ctx context.Context, input TaskInput) (store.Task, error) {
	if input.Title == "" {
		return store.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title is required", nil)
	}
	if input.Domain == "" {
		return store.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "domain is required", nil)
	}

	domain, err := s.store.GetDomain(ctx, input.Domain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, domainError(http.StatusNotFound, "DOMAIN_NOT_FOUND", "Unknown domain", nil)
		}
		return store.Task{}, err
	}

	var dueDate *time.Time
	if input.DueDate != "" {
		parsed, err := time.Parse(time.RFC3339, input.DueDate)
		if err != nil {
			return store.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "dueDate must be RFC 3339", nil)
		}
		dueDate = &parsed
	}

	if !input.AssignedToLead && len(input.Assignees) == 0 {
		return store.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "at least one assignee is required", nil)
	}

	roster := make(map[string]bool, len(domain.Members))
	for _, member := range domain.Members {
		roster[util.NormalizeEmail(member)] = true
	}
	assignees := make([]string, 0, len(input.Assignees))
	for _, raw := range input.Assignees {
		email := util.NormalizeEmail(raw)
		if email == "" {
			continue
		}
		if !roster[email] {
			return store.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("%s is not a member of %s", email, domain.Name), nil)
		}
		assignees = append(assignees, email)
	}

	return store.Task{
		Title:          input.Title,
		Description:    input.Description,
		Domain:         domain.Name,
		DueDate:        dueDate,
		AttachmentKey:  input.AttachmentKey,
		Assignees:      assignees,
		AssignedToLead: input.AssignedToLead,
	}, nil
}

// CreateTask creates a task inside a domain. Domain leads create within
// their own domain, admins anywhere. Assignees are notified by email with
// the domain lead on CC.
func (s *Service) CreateTask(ctx context.Context, sess Session, input TaskInput) (store.Task, error) {
	if !s.CanInDomain(sess, rbac.PermCreateTasks, input.Domain) {
		return store.Task{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	task, err := s.validateTaskInput(ctx, input)
	if err != nil {
		return store.Task{}, err
	}
	task.ID = util.NewID("task")
	task.CreatedBy = util.NormalizeEmail(sess.Email)

	if err := s.store.InsertTask(ctx, task); err != nil {
		return store.Task{}, fmt.Errorf("insert task: %w", err)
	}

	s.notifyAssignees(ctx, task)
	if s.search != nil {
		s.search.IndexTask(search.TaskRecord{ID: task.ID, Title: task.Title, Description: task.Description, Domain: task.Domain})
	}
	s.publish("tasks")
	s.logActivity(sess, categoryTasks, fmt.Sprintf("%s created task %q in %s", sess.UserName, task.Title, task.Domain))

	created, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return task, nil
	}
	return created, nil
}

// UpdateTask replaces the mutable fields of a task.
func (s *Service) UpdateTask(ctx context.Context, sess Session, taskID string, input TaskInput) (store.Task, error) {
	existing, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if !s.CanInDomain(sess, rbac.PermCreateTasks, existing.Domain) {
		return store.Task{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	// A task stays in its domain; moving work between domains is a
	// delete-and-recreate.
	input.Domain = existing.Domain

	task, err := s.validateTaskInput(ctx, input)
	if err != nil {
		return store.Task{}, err
	}
	task.ID = existing.ID
	task.CreatedBy = existing.CreatedBy
	if task.AttachmentKey == "" {
		task.AttachmentKey = existing.AttachmentKey
	}

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return store.Task{}, fmt.Errorf("update task: %w", err)
	}

	if s.search != nil {
		s.search.IndexTask(search.TaskRecord{ID: task.ID, Title: task.Title, Description: task.Description, Domain: task.Domain})
	}
	s.publish("tasks")
	s.logActivity(sess, categoryTasks, fmt.Sprintf("%s updated task %q", sess.UserName, task.Title))

	return s.store.GetTask(ctx, task.ID)
}

// DeleteTask removes a task along with its attachment.
func (s *Service) DeleteTask(ctx context.Context, sess Session, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !s.CanInDomain(sess, rbac.PermCreateTasks, task.Domain) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	if task.AttachmentKey != "" && s.files != nil {
		if err := s.files.Delete(ctx, task.AttachmentKey); err != nil {
			s.log.Warn().Err(err).Str("key", task.AttachmentKey).Msg("delete task attachment")
		}
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	s.publish("tasks")
	s.logActivity(sess, categoryTasks, fmt.Sprintf("%s deleted task %q", sess.UserName, task.Title))
	return nil
}

func (s *Service) canViewTask(sess Session, task store.Task) bool {
	switch rbac.Normalize(sess.Role) {
	case rbac.RoleSuperAdmin, rbac.RoleAdmin:
		return true
	case rbac.RoleDomainLead:
		return task.Domain == sess.Domain
	default:
		email := util.NormalizeEmail(sess.Email)
		for _, assignee := range task.Assignees {
			if assignee == email {
				return true
			}
		}
		return false
	}
}

// GetTask returns a task the session may see.
func (s *Service) GetTask(ctx context.Context, sess Session, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if !s.canViewTask(sess, task) {
		return store.Task{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return task, nil
}

// ListTasks returns the tasks visible to the session: everything for
// admins, the domain's tasks for a lead, assigned tasks for a member.
func (s *Service) ListTasks(ctx context.Context, sess Session) ([]store.Task, error) {
	switch rbac.Normalize(sess.Role) {
	case rbac.RoleSuperAdmin, rbac.RoleAdmin:
		return s.store.ListTasks(ctx)
	case rbac.RoleDomainLead:
		return s.store.ListTasksByDomain(ctx, sess.Domain)
	default:
		return s.store.ListTasksForAssignee(ctx, util.NormalizeEmail(sess.Email))
	}
}

func (s *Service) isTaskAssignee(ctx context.Context, sess Session, task store.Task) bool {
	email := util.NormalizeEmail(sess.Email)
	for _, assignee := range task.Assignees {
		if assignee == email {
			return true
		}
	}
	if task.AssignedToLead {
		domain, err := s.store.GetDomain(ctx, task.Domain)
		if err == nil && util.NormalizeEmail(domain.Lead) == email {
			return true
		}
	}
	return false
}

// SubmitWork records a submission on a task. Only assignees may submit.
func (s *Service) SubmitWork(ctx context.Context, sess Session, taskID string, input SubmissionInput) (store.Submission, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Submission{}, err
	}
	if !s.Can(sess, rbac.PermSubmitWork) || !s.isTaskAssignee(ctx, sess, task) {
		return store.Submission{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only assignees can submit work", nil)
	}
	if input.ContentKey == "" {
		return store.Submission{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "contentKey is required", nil)
	}

	submission := store.Submission{
		ID:         util.NewID("sub"),
		TaskID:     task.ID,
		Author:     util.NormalizeEmail(sess.Email),
		ContentKey: input.ContentKey,
		Note:       input.Note,
	}
	if err := s.store.InsertSubmission(ctx, submission); err != nil {
		return store.Submission{}, fmt.Errorf("insert submission: %w", err)
	}

	s.publish("tasks")
	s.logActivity(sess, categorySubmissions, fmt.Sprintf("%s submitted work on %q", sess.UserName, task.Title))

	return s.store.GetSubmission(ctx, task.ID, submission.ID)
}

// RateSubmission sets the quality score on a submission. Scores run 1 to 5;
// zero is reserved for "not yet rated". Raters never rate their own work.
func (s *Service) RateSubmission(ctx context.Context, sess Session, taskID, submissionID string, score int) (store.Submission, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Submission{}, err
	}
	if !s.CanInDomain(sess, rbac.PermReviewSubmissions, task.Domain) {
		return store.Submission{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if score < 1 || score > 5 {
		return store.Submission{}, domainError(http.StatusBadRequest, "INVALID_SCORE", "score must be between 1 and 5", nil)
	}

	submission, err := s.store.GetSubmission(ctx, taskID, submissionID)
	if err != nil {
		return store.Submission{}, err
	}
	if submission.Author == util.NormalizeEmail(sess.Email) {
		return store.Submission{}, domainError(http.StatusForbidden, "CANNOT_RATE_OWN", "You cannot rate your own submission", nil)
	}

	if err := s.store.RateSubmission(ctx, taskID, submissionID, score, util.NormalizeEmail(sess.Email)); err != nil {
		return store.Submission{}, err
	}

	s.notifyRated(ctx, task, submission.Author, score, sess.UserName)
	s.publish("leaderboard")
	s.logActivity(sess, categorySubmissions, fmt.Sprintf("%s rated a submission on %q with %d", sess.UserName, task.Title, score))

	return s.store.GetSubmission(ctx, taskID, submissionID)
}

// ListSubmissions returns all submissions on a task the session may review
// or that it owns.
func (s *Service) ListSubmissions(ctx context.Context, sess Session, taskID string) ([]store.Submission, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !s.canViewTask(sess, task) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	subs, err := s.store.ListSubmissions(ctx, taskID)
	if err != nil {
		return nil, err
	}
	// A plain assignee only sees their own submissions.
	if !s.CanInDomain(sess, rbac.PermReviewSubmissions, task.Domain) {
		email := util.NormalizeEmail(sess.Email)
		own := subs[:0]
		for _, sub := range subs {
			if sub.Author == email {
				own = append(own, sub)
			}
		}
		subs = own
	}
	return subs, nil
}

// MySubmissions returns the session's submissions across all tasks.
func (s *Service) MySubmissions(ctx context.Context, sess Session) ([]store.Submission, error) {
	all, err := s.store.ListAllSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	email := util.NormalizeEmail(sess.Email)
	var mine []store.Submission
	for _, sub := range all {
		if sub.Author == email {
			mine = append(mine, sub)
		}
	}
	return mine, nil
}

// Leaderboard ranks contributors by average quality score, strictly
// descending. Contributors with no rated submission do not appear.
func (s *Service) Leaderboard(ctx context.Context, sess Session) ([]LeaderboardEntry, error) {
	return s.computeLeaderboard(ctx)
}

func (s *Service) computeLeaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	subs, err := s.store.ListAllSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	type tally struct {
		sum   int
		count int
	}
	tallies := make(map[string]*tally)
	for _, sub := range subs {
		if sub.QualityScore == 0 {
			continue
		}
		t := tallies[sub.Author]
		if t == nil {
			t = &tally{}
			tallies[sub.Author] = t
		}
		t.sum += sub.QualityScore
		t.count++
	}

	byEmail := make(map[string]store.User, len(users))
	for _, user := range users {
		byEmail[util.NormalizeEmail(user.Email)] = user
	}

	entries := make([]LeaderboardEntry, 0, len(tallies))
	for email, t := range tallies {
		entry := LeaderboardEntry{
			Email:        email,
			Name:         email,
			RatedCount:   t.count,
			AverageScore: float64(t.sum) / float64(t.count),
		}
		if user, ok := byEmail[email]; ok {
			entry.Name = user.DisplayName
			entry.Domain = user.Domain
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AverageScore != entries[j].AverageScore {
			return entries[i].AverageScore > entries[j].AverageScore
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// PresignUpload returns a storage key and a time-limited upload URL for the
// given folder. The permission required depends on what is being uploaded.
func (s *Service) PresignUpload(ctx context.Context, sess Session, folder, filename string) (string, string, error) {
	if s.files == nil {
		return "", "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	if filename == "" {
		return "", "", domainError(http.StatusBadRequest, "VALIDATION_ERROR", "filename is required", nil)
	}

	var perm rbac.Permission
	switch folder {
	case "tasks":
		perm = rbac.PermCreateTasks
	case "submissions":
		perm = rbac.PermSubmitWork
	case "docs":
		perm = rbac.PermManageDocumentation
	case "announcements":
		perm = rbac.PermManageAnnouncements
	default:
		return "", "", domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown upload folder", nil)
	}
	if !s.Can(sess, perm) {
		return "", "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	key := blob.ObjectKey(folder, filename)
	url, err := s.files.PresignPut(ctx, key)
	if err != nil {
		return "", "", fmt.Errorf("presign upload: %w", err)
	}
	return key, url, nil
}

// TaskAttachmentURL returns a time-limited download URL for a task's
// attachment.
func (s *Service) TaskAttachmentURL(ctx context.Context, sess Session, taskID string) (string, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if !s.canViewTask(sess, task) {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if task.AttachmentKey == "" {
		return "", domainError(http.StatusNotFound, "NO_ATTACHMENT", "Task has no attachment", nil)
	}
	if s.files == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	url, err := s.files.PresignGet(ctx, task.AttachmentKey, path.Base(task.AttachmentKey))
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return url, nil
}

// SubmissionContentURL returns a time-limited download URL for a
// submission's content. Reviewers and the author may fetch it.
func (s *Service) SubmissionContentURL(ctx context.Context, sess Session, taskID, submissionID string) (string, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	submission, err := s.store.GetSubmission(ctx, taskID, submissionID)
	if err != nil {
		return "", err
	}
	isAuthor := submission.Author == util.NormalizeEmail(sess.Email)
	if !isAuthor && !s.CanInDomain(sess, rbac.PermReviewSubmissions, task.Domain) {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if s.files == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	url, err := s.files.PresignGet(ctx, submission.ContentKey, path.Base(submission.ContentKey))
	if err != nil {
		return "", fmt.Errorf("presign submission: %w", err)
	}
	return url, nil
}

func (s *Service) notifyAssignees(ctx context.Context, task store.Task) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	domain, err := s.store.GetDomain(ctx, task.Domain)
	if err != nil {
		s.log.Warn().Err(err).Str("domain", task.Domain).Msg("load domain for notification")
		return
	}
	var cc []string
	if lead := util.NormalizeEmail(domain.Lead); lead != "" {
		cc = []string{lead}
	}

	dueDate := "not set"
	if task.DueDate != nil {
		dueDate = task.DueDate.Format("Jan 2, 2006")
	}
	taskURL := s.cfg.AppBaseURL + "/tasks/" + task.ID

	recipients := task.Assignees
	if task.AssignedToLead {
		recipients = append(recipients, util.NormalizeEmail(domain.Lead))
		cc = nil
	}
	for _, email := range recipients {
		name := email
		if user, err := s.store.GetUserByEmail(ctx, email); err == nil {
			name = user.DisplayName
		}
		to, userName := email, name
		s.sendMail("task-assigned", func() error {
			return s.mail.SendTaskAssignedEmail(to, cc, userName, task.Title, task.Domain, dueDate, taskURL)
		})
	}
}

func (s *Service) notifyRated(ctx context.Context, task store.Task, author string, score int, reviewerName string) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	name := author
	if user, err := s.store.GetUserByEmail(ctx, author); err == nil {
		name = user.DisplayName
	}
	taskURL := s.cfg.AppBaseURL + "/tasks/" + task.ID
	s.sendMail("submission-reviewed", func() error {
		return s.mail.SendSubmissionReviewedEmail(author, name, task.Title, score, reviewerName, taskURL)
	})
}
