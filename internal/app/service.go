// Package app wires the task-management domain together: sessions, the
// directory-driven authorization model, tasks and submissions, announcements,
// suggestions, documentation, and the immutable activity log.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/authpw"
	"taskhub/api/internal/config"
	"taskhub/api/internal/metrics"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/realtime"
	"taskhub/api/internal/search"
	"taskhub/api/internal/session"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

// Session is the authenticated principal attached to a request. Role and
// Domain come from the directory resolution performed at sign-in; Grants is
// the permission set of an attached role record, if any.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	Domain       string
	Grants       []string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the persistence surface the service depends on. The postgres
// implementation lives in internal/store.
type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserAssignment(ctx context.Context, userID, role, domain string) error
	UpdateUserProfile(ctx context.Context, userID, displayName, avatarURL string) error
	SetUserRoleRecord(ctx context.Context, userID string, roleRecordID *string) error
	GetUserGrants(ctx context.Context, userID string) ([]string, error)

	ListRoleRecords(ctx context.Context) ([]store.RoleRecord, error)
	GetRoleRecord(ctx context.Context, id string) (store.RoleRecord, error)
	InsertRoleRecord(ctx context.Context, record store.RoleRecord) error
	UpdateRoleRecord(ctx context.Context, record store.RoleRecord) error
	DeleteRoleRecord(ctx context.Context, id string) error

	ListDomains(ctx context.Context) ([]store.Domain, error)
	GetDomain(ctx context.Context, name string) (store.Domain, error)
	InsertDomain(ctx context.Context, domain store.Domain) error
	UpdateDomainRoster(ctx context.Context, name, lead string, members []string) error
	ListSpecialRoles(ctx context.Context) (map[string]string, error)
	UpsertSpecialRole(ctx context.Context, email, role string) error

	InsertTask(ctx context.Context, task store.Task) error
	UpdateTask(ctx context.Context, task store.Task) error
	DeleteTask(ctx context.Context, taskID string) error
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	ListTasks(ctx context.Context) ([]store.Task, error)
	ListTasksByDomain(ctx context.Context, domain string) ([]store.Task, error)
	ListTasksForAssignee(ctx context.Context, email string) ([]store.Task, error)

	InsertSubmission(ctx context.Context, submission store.Submission) error
	GetSubmission(ctx context.Context, taskID, submissionID string) (store.Submission, error)
	RateSubmission(ctx context.Context, taskID, submissionID string, score int, ratedBy string) error
	ListSubmissions(ctx context.Context, taskID string) ([]store.Submission, error)
	ListAllSubmissions(ctx context.Context) ([]store.Submission, error)

	InsertSuggestion(ctx context.Context, suggestion store.Suggestion) error
	GetSuggestion(ctx context.Context, id string) (store.Suggestion, error)
	ListSuggestions(ctx context.Context) ([]store.Suggestion, error)
	UpdateSuggestionStatus(ctx context.Context, id, status string) error
	InsertSuggestionResponse(ctx context.Context, response store.SuggestionResponse) error
	ListSuggestionResponses(ctx context.Context, suggestionID string) ([]store.SuggestionResponse, error)

	InsertAnnouncement(ctx context.Context, announcement store.Announcement) error
	GetAnnouncement(ctx context.Context, id string) (store.Announcement, error)
	ListAnnouncements(ctx context.Context) ([]store.Announcement, error)
	UpdateAnnouncementStatus(ctx context.Context, id, status string, publishedAt *time.Time) error
	DeleteAnnouncement(ctx context.Context, id string) error

	InsertDocItem(ctx context.Context, item store.DocItem) error
	GetDocItem(ctx context.Context, id string) (store.DocItem, error)
	ListDocItems(ctx context.Context) ([]store.DocItem, error)
	DeleteDocItems(ctx context.Context, ids []string) error

	InsertLog(ctx context.Context, entry store.LogEntry) error
	ListLogs(ctx context.Context, cursor string) (store.LogPage, error)

	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// refreshSessions stores refresh tokens keyed by hash. Redis in production,
// postgres as a fallback; both carry the identity the token was issued for.
type refreshSessions interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// mailer is the notification surface. All sends are fire-and-forget.
type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendTaskAssignedEmail(to string, cc []string, userName, taskTitle, domain, dueDate, taskURL string) error
	SendSubmissionReviewedEmail(to, userName, taskTitle string, qualityScore int, reviewerName, taskURL string) error
	SendEmail(to []string, subject, body string) error
}

// fileStore is the object-storage surface for attachments, submission
// payloads, and documentation files.
type fileStore interface {
	Delete(ctx context.Context, key string) error
	PresignPut(ctx context.Context, key string) (string, error)
	PresignGet(ctx context.Context, key, filename string) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshSessions
	authpw   *authpw.Service
	mail     mailer
	files    fileStore
	search   *search.Service
	broker   *realtime.Broker
	metrics  *metrics.Collector
	log      zerolog.Logger
}

func New(
	cfg config.Config,
	store dataStore,
	sessions refreshSessions,
	authSvc *authpw.Service,
	mail mailer,
	files fileStore,
	searchSvc *search.Service,
	broker *realtime.Broker,
	collector *metrics.Collector,
	logger zerolog.Logger,
) *Service {
	s := &Service{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		authpw:   authSvc,
		mail:     mail,
		files:    files,
		search:   searchSvc,
		broker:   broker,
		metrics:  collector,
		log:      logger,
	}
	s.registerCollections()
	return s
}

// registerCollections wires the realtime broker's snapshot fetchers. Each
// publishes the full collection; subscribers coalesce to the latest state.
func (s *Service) registerCollections() {
	if s.broker == nil {
		return
	}
	s.broker.Register("tasks", func(ctx context.Context) (any, error) {
		return s.store.ListTasks(ctx)
	})
	s.broker.Register("announcements", func(ctx context.Context) (any, error) {
		return s.store.ListAnnouncements(ctx)
	})
	s.broker.Register("suggestions", func(ctx context.Context) (any, error) {
		return s.store.ListSuggestions(ctx)
	})
	s.broker.Register("leaderboard", func(ctx context.Context) (any, error) {
		return s.computeLeaderboard(ctx)
	})
	s.broker.Register("logs", func(ctx context.Context) (any, error) {
		page, err := s.store.ListLogs(ctx, "")
		if err != nil {
			return nil, err
		}
		return page.Entries, nil
	})
}

// scopeSnapshot narrows a collection snapshot to what the session may see,
// applying the same visibility rules as the REST listings. Fetchers publish
// full collections; filtering happens per subscriber at delivery time.
func (s *Service) scopeSnapshot(sess Session, snap realtime.Snapshot) realtime.Snapshot {
	switch snap.Collection {
	case "tasks":
		if tasks, ok := snap.Data.([]store.Task); ok {
			visible := make([]store.Task, 0, len(tasks))
			for _, task := range tasks {
				if s.canViewTask(sess, task) {
					visible = append(visible, task)
				}
			}
			snap.Data = visible
		}
	case "suggestions":
		if suggestions, ok := snap.Data.([]store.Suggestion); ok {
			canManage := s.Can(sess, rbac.PermManageSuggestions)
			masked := make([]store.Suggestion, 0, len(suggestions))
			for _, suggestion := range suggestions {
				masked = append(masked, maskSuggestion(suggestion, canManage))
			}
			snap.Data = masked
		}
	}
	return snap
}

// Bootstrap seeds the special-roles map with the configured super-admin and
// rebuilds the search indexes from postgres.
func (s *Service) Bootstrap(ctx context.Context) error {
	if email := util.NormalizeEmail(s.cfg.BootstrapAdminEmail); email != "" {
		if err := s.store.UpsertSpecialRole(ctx, email, string(rbac.RoleSuperAdmin)); err != nil {
			return fmt.Errorf("seed bootstrap admin: %w", err)
		}
		s.log.Info().Str("email", email).Msg("bootstrap super-admin seeded")
	}
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// directory loads the authorization source of truth: domain rosters plus the
// special-roles map.
func (s *Service) directory(ctx context.Context) (rbac.Directory, error) {
	domains, err := s.store.ListDomains(ctx)
	if err != nil {
		return rbac.Directory{}, fmt.Errorf("load domains: %w", err)
	}
	specials, err := s.store.ListSpecialRoles(ctx)
	if err != nil {
		return rbac.Directory{}, fmt.Errorf("load special roles: %w", err)
	}

	dir := rbac.Directory{SpecialRoles: make(map[string]rbac.Role, len(specials))}
	for _, d := range domains {
		dir.Domains = append(dir.Domains, rbac.Domain{Name: d.Name, Lead: d.Lead, Members: d.Members})
	}
	for email, role := range specials {
		dir.SpecialRoles[util.NormalizeEmail(email)] = rbac.Normalize(role)
	}
	return dir, nil
}

// CreateSession resolves the user against the directory and issues tokens.
// The directory check happens before any token is minted: an email that maps
// to no domain and no special role never gets a session.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.createSessionForUser(ctx, user)
}

func (s *Service) createSessionForUser(ctx context.Context, user store.User) (Session, error) {
	dir, err := s.directory(ctx)
	if err != nil {
		return Session{}, err
	}

	assignment, err := rbac.ResolveRole(dir, user.Email)
	if errors.Is(err, rbac.ErrUnmappedIdentity) {
		if s.metrics != nil {
			s.metrics.RecordAuthDenial()
		}
		s.logActivity(Session{Email: user.Email, UserName: user.DisplayName},
			categoryPermissions, fmt.Sprintf("sign-in denied for %s: not in the directory", user.Email))
		return Session{}, domainError(http.StatusForbidden, "NOT_IN_DIRECTORY",
			"Your account is not assigned to any domain. Contact an administrator.", nil)
	}
	if err != nil {
		return Session{}, err
	}

	if string(assignment.Role) != user.Role || assignment.Domain != user.Domain {
		if err := s.store.UpdateUserAssignment(ctx, user.ID, string(assignment.Role), assignment.Domain); err != nil {
			s.log.Warn().Err(err).Str("user_id", user.ID).Msg("sync user assignment")
		}
		user.Role = string(assignment.Role)
		user.Domain = assignment.Domain
	}

	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:    user.ID,
		Email:  user.Email,
		Name:   user.DisplayName,
		Role:   user.Role,
		Domain: user.Domain,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	refreshToken := util.NewID("rft") + util.NewID("")
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user, refreshExpiry); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	grants, err := s.store.GetUserGrants(ctx, user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("load grants: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		Domain:       user.Domain,
		Grants:       grants,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token. The identity is re-resolved against the
// directory so a roster removal takes effect at the next refresh, not only
// at the next sign-in.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	hash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		s.log.Warn().Err(err).Msg("revoke rotated refresh token")
	}
	return s.createSessionForUser(ctx, user)
}

// SessionFromToken validates an access token and rebuilds the session from
// its claims, checking the revocation list.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	grants, err := s.store.GetUserGrants(ctx, claims.Sub)
	if err != nil {
		return Session{}, fmt.Errorf("load grants: %w", err)
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		Role:      claims.Role,
		Domain:    claims.Domain,
		Grants:    grants,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the access token and the refresh token. Best effort on both
// ends; a logout never fails the client.
func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			s.log.Warn().Err(err).Msg("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log.Warn().Err(err).Msg("revoke refresh token")
		}
	}
	if sess.Email != "" {
		s.logActivity(sess, categoryAuth, fmt.Sprintf("%s signed out", sess.UserName))
	}
	return nil
}

// subject converts a session into the principal the rbac package decides on.
func subject(sess Session) rbac.Subject {
	grants := make([]rbac.Permission, 0, len(sess.Grants))
	for _, g := range sess.Grants {
		grants = append(grants, rbac.Permission(g))
	}
	return rbac.Subject{
		Email:  util.NormalizeEmail(sess.Email),
		Role:   rbac.Normalize(sess.Role),
		Domain: sess.Domain,
		Grants: grants,
	}
}

// Can reports whether the session may perform the permission.
func (s *Service) Can(sess Session, perm rbac.Permission) bool {
	return rbac.Can(subject(sess), perm)
}

// CanInDomain reports whether the session may perform the permission inside
// the given domain.
func (s *Service) CanInDomain(sess Session, perm rbac.Permission, domain string) bool {
	return rbac.CanInDomain(subject(sess), perm, domain)
}

// logActivity appends to the immutable activity log. Failures are logged and
// swallowed; a missing audit line never fails the operation that caused it.
// Activity log categories. The enumeration is fixed; every entry carries
// exactly one of these.
const (
	categoryAuth        = "Authentication"
	categoryTasks       = "Task Management"
	categoryPermissions = "Permissions"
	categoryDomains     = "Domain Management"
	categorySite        = "Site Status"
	categorySubmissions = "Submissions"
	categoryError       = "Error"
)

func (s *Service) logActivity(sess Session, category, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := store.LogEntry{
		Message:    message,
		Category:   category,
		ActorEmail: sess.Email,
		ActorName:  sess.UserName,
		ActorRole:  sess.Role,
	}
	if err := s.store.InsertLog(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("category", category).Msg("write activity log")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordActivityWrite()
	}
	s.publish("logs")
}

// publish pushes a fresh snapshot of the collection to realtime subscribers.
func (s *Service) publish(collection string) {
	if s.broker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.broker.Publish(ctx, collection)
	if s.metrics != nil {
		s.metrics.RecordSnapshotPushed(collection)
	}
}

// sendMail runs a notification send in the background and records the
// outcome. No-op when SMTP is not configured.
func (s *Service) sendMail(description string, send func() error) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	go func() {
		if err := send(); err != nil {
			if s.metrics != nil {
				s.metrics.RecordMailFailed()
			}
			s.log.Warn().Err(err).Str("mail", description).Msg("send notification")
			return
		}
		if s.metrics != nil {
			s.metrics.RecordMailSent()
		}
	}()
}

// Search runs a query scoped to the caller. Members and domain leads only
// see tasks from their own domain; result visibility for announcements and
// documentation is enforced by the search service.
func (s *Service) Search(ctx context.Context, sess Session, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}}, nil
	}
	role := rbac.Normalize(sess.Role)
	if role != rbac.RoleSuperAdmin && role != rbac.RoleAdmin {
		q.FilterDomain = sess.Domain
	}
	q.ViewerRole = sess.Role
	return s.search.Search(q), nil
}

// ActivityLog returns one page of the activity log, newest first. Page size
// is fixed; the cursor comes from the previous page.
func (s *Service) ActivityLog(ctx context.Context, sess Session, cursor string) (store.LogPage, error) {
	if !s.Can(sess, rbac.PermViewLogs) {
		return store.LogPage{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	page, err := s.store.ListLogs(ctx, cursor)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			return store.LogPage{}, domainError(http.StatusBadRequest, "INVALID_CURSOR", "Malformed pagination cursor", nil)
		}
		return store.LogPage{}, err
	}
	return page, nil
}

// SendVerificationMail emails the sign-up verification link.
func (s *Service) SendVerificationMail(email, name, token string) {
	link := s.cfg.AppBaseURL + "/verify-email?token=" + token
	s.sendMail("verification", func() error {
		return s.mail.SendVerificationEmail(email, name, link)
	})
}

// SendPasswordResetMail emails the password reset link.
func (s *Service) SendPasswordResetMail(email, token string) {
	link := s.cfg.AppBaseURL + "/reset-password?token=" + token
	s.sendMail("password-reset", func() error {
		return s.mail.SendPasswordResetEmail(email, email, link)
	})
}
