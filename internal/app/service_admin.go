package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"taskhub/api/internal/rbac"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

// parseAudience splits an announcement audience into its kind and value.
// An audience is "everyone", "role:<role>", or "domain:<name>".
func parseAudience(audience string) (kind, value string, ok bool) {
	if audience == "everyone" {
		return "everyone", "", true
	}
	if v, found := strings.CutPrefix(audience, "role:"); found {
		return "role", v, v != ""
	}
	if v, found := strings.CutPrefix(audience, "domain:"); found {
		return "domain", v, v != ""
	}
	return "", "", false
}

func audienceMatches(audience, role, domain string) bool {
	kind, value, ok := parseAudience(audience)
	if !ok {
		return false
	}
	switch kind {
	case "role":
		return string(rbac.Normalize(role)) == value
	case "domain":
		return domain == value
	}
	return true
}

// announcementTransitions lists the allowed status moves. Anything else is
// rejected as an invalid transition.
var announcementTransitions = map[string][]string{
	"draft":     {"published"},
	"published": {"archived"},
	"archived":  {},
}

// suggestionStatusRank orders the forward-only lifecycle. A suggestion never
// moves back to an earlier status.
var suggestionStatusRank = map[string]int{
	"Open":        0,
	"In Progress": 1,
	"Resolved":    2,
	"Closed":      3,
}

func emailValid(email string) bool {
	email = util.NormalizeEmail(email)
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}

// ListDirectory returns the full authorization directory: every domain
// roster plus the special-roles map. Requires domain management rights.
func (s *Service) ListDirectory(ctx context.Context, sess Session) ([]store.Domain, map[string]string, error) {
	if !s.Can(sess, rbac.PermManageDomains) {
		return nil, nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	domains, err := s.store.ListDomains(ctx)
	if err != nil {
		return nil, nil, err
	}
	specials, err := s.store.ListSpecialRoles(ctx)
	if err != nil {
		return nil, nil, err
	}
	return domains, specials, nil
}

// memberOfOtherDomain reports which domain already claims the email, if any.
// An email belongs to at most one domain, as lead or member.
func memberOfOtherDomain(domains []store.Domain, email, exclude string) (string, bool) {
	email = util.NormalizeEmail(email)
	for _, domain := range domains {
		if domain.Name == exclude {
			continue
		}
		if util.NormalizeEmail(domain.Lead) == email {
			return domain.Name, true
		}
		for _, member := range domain.Members {
			if util.NormalizeEmail(member) == email {
				return domain.Name, true
			}
		}
	}
	return "", false
}

// CreateDomain adds a domain with its lead and initial roster.
func (s *Service) CreateDomain(ctx context.Context, sess Session, name, lead string, members []string) (store.Domain, error) {
	if !s.Can(sess, rbac.PermManageDomains) {
		return store.Domain{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Domain{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	if !emailValid(lead) {
		return store.Domain{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "lead must be a valid email", nil)
	}

	if _, err := s.store.GetDomain(ctx, name); err == nil {
		return store.Domain{}, domainError(http.StatusConflict, "DOMAIN_EXISTS", "Domain already exists", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Domain{}, err
	}

	existing, err := s.store.ListDomains(ctx)
	if err != nil {
		return store.Domain{}, err
	}

	roster := make([]string, 0, len(members))
	seen := make(map[string]bool)
	for _, raw := range members {
		email := util.NormalizeEmail(raw)
		if email == "" || seen[email] {
			continue
		}
		if !emailValid(email) {
			return store.Domain{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("%s is not a valid email", email), nil)
		}
		if taken, ok := memberOfOtherDomain(existing, email, ""); ok {
			return store.Domain{}, domainError(http.StatusConflict, "MEMBER_EXISTS",
				fmt.Sprintf("%s already belongs to %s", email, taken), nil)
		}
		seen[email] = true
		roster = append(roster, email)
	}
	if taken, ok := memberOfOtherDomain(existing, lead, ""); ok {
		return store.Domain{}, domainError(http.StatusConflict, "MEMBER_EXISTS",
			fmt.Sprintf("%s already belongs to %s", util.NormalizeEmail(lead), taken), nil)
	}

	domain := store.Domain{Name: name, Lead: util.NormalizeEmail(lead), Members: roster}
	if err := s.store.InsertDomain(ctx, domain); err != nil {
		return store.Domain{}, fmt.Errorf("insert domain: %w", err)
	}

	s.logActivity(sess, categoryDomains, fmt.Sprintf("%s created domain %s", sess.UserName, name))
	return s.store.GetDomain(ctx, name)
}

// AddDomainMember adds an email to a domain roster. An email can belong to
// only one domain; a conflicting add changes nothing and reports the owner.
func (s *Service) AddDomainMember(ctx context.Context, sess Session, domainName, email string) (store.Domain, error) {
	if !s.Can(sess, rbac.PermManageDomains) {
		return store.Domain{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if !emailValid(email) {
		return store.Domain{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "a valid email is required", nil)
	}
	email = util.NormalizeEmail(email)

	domain, err := s.store.GetDomain(ctx, domainName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Domain{}, domainError(http.StatusNotFound, "DOMAIN_NOT_FOUND", "Unknown domain", nil)
		}
		return store.Domain{}, err
	}

	if util.NormalizeEmail(domain.Lead) == email {
		return store.Domain{}, domainError(http.StatusConflict, "MEMBER_EXISTS",
			fmt.Sprintf("%s already leads %s", email, domain.Name), nil)
	}
	for _, member := range domain.Members {
		if util.NormalizeEmail(member) == email {
			return store.Domain{}, domainError(http.StatusConflict, "MEMBER_EXISTS",
				fmt.Sprintf("%s is already a member of %s", email, domain.Name), nil)
		}
	}
	all, err := s.store.ListDomains(ctx)
	if err != nil {
		return store.Domain{}, err
	}
	if taken, ok := memberOfOtherDomain(all, email, domain.Name); ok {
		return store.Domain{}, domainError(http.StatusConflict, "MEMBER_EXISTS",
			fmt.Sprintf("%s already belongs to %s", email, taken), nil)
	}

	members := append(domain.Members, email)
	if err := s.store.UpdateDomainRoster(ctx, domain.Name, domain.Lead, members); err != nil {
		return store.Domain{}, fmt.Errorf("update roster: %w", err)
	}

	s.logActivity(sess, categoryDomains, fmt.Sprintf("%s added %s to %s", sess.UserName, email, domain.Name))
	return s.store.GetDomain(ctx, domain.Name)
}

// RemoveDomainMember drops an email from a domain roster.
func (s *Service) RemoveDomainMember(ctx context.Context, sess Session, domainName, email string) (store.Domain, error) {
	if !s.Can(sess, rbac.PermManageDomains) {
		return store.Domain{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	email = util.NormalizeEmail(email)

	domain, err := s.store.GetDomain(ctx, domainName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Domain{}, domainError(http.StatusNotFound, "DOMAIN_NOT_FOUND", "Unknown domain", nil)
		}
		return store.Domain{}, err
	}

	members := make([]string, 0, len(domain.Members))
	found := false
	for _, member := range domain.Members {
		if util.NormalizeEmail(member) == email {
			found = true
			continue
		}
		members = append(members, member)
	}
	if !found {
		return store.Domain{}, domainError(http.StatusNotFound, "MEMBER_NOT_FOUND", "Not a member of this domain", nil)
	}

	if err := s.store.UpdateDomainRoster(ctx, domain.Name, domain.Lead, members); err != nil {
		return store.Domain{}, fmt.Errorf("update roster: %w", err)
	}

	s.logActivity(sess, categoryDomains, fmt.Sprintf("%s removed %s from %s", sess.UserName, email, domain.Name))
	return s.store.GetDomain(ctx, domain.Name)
}

// SetDomainLead replaces the lead of a domain. The new lead must not belong
// to another domain.
func (s *Service) SetDomainLead(ctx context.Context, sess Session, domainName, email string) (store.Domain, error) {
	if !s.Can(sess, rbac.PermManageDomains) {
		return store.Domain{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if !emailValid(email) {
		return store.Domain{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "a valid email is required", nil)
	}
	email = util.NormalizeEmail(email)

	domain, err := s.store.GetDomain(ctx, domainName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Domain{}, domainError(http.StatusNotFound, "DOMAIN_NOT_FOUND", "Unknown domain", nil)
		}
		return store.Domain{}, err
	}

	all, err := s.store.ListDomains(ctx)
	if err != nil {
		return store.Domain{}, err
	}
	if taken, ok := memberOfOtherDomain(all, email, domain.Name); ok {
		return store.Domain{}, domainError(http.StatusConflict, "MEMBER_EXISTS",
			fmt.Sprintf("%s already belongs to %s", email, taken), nil)
	}

	// Promoting an existing member drops them from the roster.
	members := make([]string, 0, len(domain.Members))
	for _, member := range domain.Members {
		if util.NormalizeEmail(member) != email {
			members = append(members, member)
		}
	}

	if err := s.store.UpdateDomainRoster(ctx, domain.Name, email, members); err != nil {
		return store.Domain{}, fmt.Errorf("update roster: %w", err)
	}

	s.logActivity(sess, categoryDomains, fmt.Sprintf("%s made %s the lead of %s", sess.UserName, email, domain.Name))
	return s.store.GetDomain(ctx, domain.Name)
}

// SetSpecialRole maps an email to admin or super-admin outside the domain
// structure. Super-admin only.
func (s *Service) SetSpecialRole(ctx context.Context, sess Session, email, role string) error {
	if !s.Can(sess, rbac.PermManageRoles) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if !emailValid(email) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "a valid email is required", nil)
	}
	if role != string(rbac.RoleAdmin) && role != string(rbac.RoleSuperAdmin) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "role must be admin or super-admin", nil)
	}
	if err := s.store.UpsertSpecialRole(ctx, util.NormalizeEmail(email), role); err != nil {
		return fmt.Errorf("upsert special role: %w", err)
	}
	s.logActivity(sess, categoryPermissions, fmt.Sprintf("%s granted %s to %s", sess.UserName, role, util.NormalizeEmail(email)))
	return nil
}

// ListUsers returns all registered accounts.
func (s *Service) ListUsers(ctx context.Context, sess Session) ([]store.User, error) {
	if !s.Can(sess, rbac.PermManageUsers) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ListUsers(ctx)
}

func validatePermissions(perms []string) error {
	known := map[rbac.Permission]bool{
		rbac.PermManageUsers:         true,
		rbac.PermManageDomains:       true,
		rbac.PermManageRoles:         true,
		rbac.PermCreateTasks:         true,
		rbac.PermReviewSubmissions:   true,
		rbac.PermSubmitWork:          true,
		rbac.PermManageAnnouncements: true,
		rbac.PermManageDocumentation: true,
		rbac.PermManageSuggestions:   true,
		rbac.PermViewLogs:            true,
		rbac.PermSendNotifications:   true,
	}
	for _, p := range perms {
		if !known[rbac.Permission(p)] {
			return domainError(http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("unknown permission %q", p), nil)
		}
	}
	return nil
}

// ListRoleRecords returns every named permission bundle.
func (s *Service) ListRoleRecords(ctx context.Context, sess Session) ([]store.RoleRecord, error) {
	if !s.Can(sess, rbac.PermManageRoles) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ListRoleRecords(ctx)
}

// CreateRoleRecord creates a named permission bundle.
func (s *Service) CreateRoleRecord(ctx context.Context, sess Session, name string, permissions []string) (store.RoleRecord, error) {
	if !s.Can(sess, rbac.PermManageRoles) {
		return store.RoleRecord{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.RoleRecord{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	if err := validatePermissions(permissions); err != nil {
		return store.RoleRecord{}, err
	}

	record := store.RoleRecord{ID: util.NewID("role"), Name: name, Permissions: permissions}
	if err := s.store.InsertRoleRecord(ctx, record); err != nil {
		return store.RoleRecord{}, fmt.Errorf("insert role record: %w", err)
	}
	s.logActivity(sess, categoryPermissions, fmt.Sprintf("%s created role record %q", sess.UserName, name))
	return s.store.GetRoleRecord(ctx, record.ID)
}

// UpdateRoleRecord replaces the name and permission set of a bundle.
func (s *Service) UpdateRoleRecord(ctx context.Context, sess Session, id, name string, permissions []string) (store.RoleRecord, error) {
	if !s.Can(sess, rbac.PermManageRoles) {
		return store.RoleRecord{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.RoleRecord{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	if err := validatePermissions(permissions); err != nil {
		return store.RoleRecord{}, err
	}
	if _, err := s.store.GetRoleRecord(ctx, id); err != nil {
		return store.RoleRecord{}, err
	}
	if err := s.store.UpdateRoleRecord(ctx, store.RoleRecord{ID: id, Name: name, Permissions: permissions}); err != nil {
		return store.RoleRecord{}, err
	}
	s.logActivity(sess, categoryPermissions, fmt.Sprintf("%s updated role record %q", sess.UserName, name))
	return s.store.GetRoleRecord(ctx, id)
}

// DeleteRoleRecord removes a bundle and detaches it from every user.
func (s *Service) DeleteRoleRecord(ctx context.Context, sess Session, id string) error {
	if !s.Can(sess, rbac.PermManageRoles) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	record, err := s.store.GetRoleRecord(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRoleRecord(ctx, id); err != nil {
		return err
	}
	s.logActivity(sess, categoryPermissions, fmt.Sprintf("%s deleted role record %q", sess.UserName, record.Name))
	return nil
}

// AssignRoleRecord attaches a bundle to a user, or detaches with a nil id.
func (s *Service) AssignRoleRecord(ctx context.Context, sess Session, userID string, roleRecordID *string) error {
	if !s.Can(sess, rbac.PermManageRoles) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if roleRecordID != nil {
		if _, err := s.store.GetRoleRecord(ctx, *roleRecordID); err != nil {
			return err
		}
	}
	if err := s.store.SetUserRoleRecord(ctx, userID, roleRecordID); err != nil {
		return err
	}
	if roleRecordID == nil {
		s.logActivity(sess, categoryPermissions, fmt.Sprintf("%s detached the role record from %s", sess.UserName, user.Email))
	} else {
		s.logActivity(sess, categoryPermissions, fmt.Sprintf("%s attached a role record to %s", sess.UserName, user.Email))
	}
	return nil
}

// AnnouncementInput is the write shape for announcements.
type AnnouncementInput struct {
	Title         string
	Content       string
	Audience      string
	AttachmentKey string
}

// CreateAnnouncement creates a draft announcement.
func (s *Service) CreateAnnouncement(ctx context.Context, sess Session, input AnnouncementInput) (store.Announcement, error) {
	if !s.Can(sess, rbac.PermManageAnnouncements) {
		return store.Announcement{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.Announcement{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title is required", nil)
	}
	if input.Audience == "" {
		input.Audience = "everyone"
	}
	kind, value, ok := parseAudience(input.Audience)
	if !ok {
		return store.Announcement{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown audience", nil)
	}
	if kind == "role" && !validDocRoles[value] {
		return store.Announcement{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("unknown role %q in audience", value), nil)
	}
	if kind == "domain" {
		if _, err := s.store.GetDomain(ctx, value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Announcement{}, domainError(http.StatusNotFound, "DOMAIN_NOT_FOUND",
					fmt.Sprintf("domain %q does not exist", value), nil)
			}
			return store.Announcement{}, err
		}
	}

	announcement := store.Announcement{
		ID:            util.NewID("ann"),
		Title:         input.Title,
		Content:       input.Content,
		AttachmentKey: input.AttachmentKey,
		Audience:      input.Audience,
		Status:        "draft",
		Author:        util.NormalizeEmail(sess.Email),
	}
	if err := s.store.InsertAnnouncement(ctx, announcement); err != nil {
		return store.Announcement{}, fmt.Errorf("insert announcement: %w", err)
	}

	s.logActivity(sess, categorySite, fmt.Sprintf("%s drafted announcement %q", sess.UserName, input.Title))
	return s.store.GetAnnouncement(ctx, announcement.ID)
}

func transitionAllowed(transitions map[string][]string, from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SetAnnouncementStatus moves an announcement through its lifecycle.
// Publishing stamps the publication time, indexes it for search, and mails
// the audience.
func (s *Service) SetAnnouncementStatus(ctx context.Context, sess Session, id, status string) (store.Announcement, error) {
	if !s.Can(sess, rbac.PermManageAnnouncements) {
		return store.Announcement{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if _, ok := announcementTransitions[status]; !ok {
		return store.Announcement{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown status", nil)
	}

	announcement, err := s.store.GetAnnouncement(ctx, id)
	if err != nil {
		return store.Announcement{}, err
	}
	if !transitionAllowed(announcementTransitions, announcement.Status, status) {
		return store.Announcement{}, domainError(http.StatusUnprocessableEntity, "INVALID_TRANSITION",
			fmt.Sprintf("cannot move announcement from %s to %s", announcement.Status, status), nil)
	}

	var publishedAt *time.Time
	if status == "published" {
		now := time.Now().UTC()
		publishedAt = &now
	}
	if err := s.store.UpdateAnnouncementStatus(ctx, id, status, publishedAt); err != nil {
		return store.Announcement{}, err
	}

	if status == "published" {
		if s.search != nil {
			s.search.IndexAnnouncement(search.AnnouncementRecord{
				ID: announcement.ID, Title: announcement.Title, Content: announcement.Content, Status: status,
			})
		}
		s.notifyAudience(ctx, sess, announcement)
	}
	if status == "archived" && s.search != nil {
		s.search.DeleteAnnouncement(announcement.ID)
	}

	s.publish("announcements")
	s.logActivity(sess, categorySite, fmt.Sprintf("%s moved announcement %q to %s", sess.UserName, announcement.Title, status))
	return s.store.GetAnnouncement(ctx, id)
}

// ListAnnouncements returns what the session may read: everything for
// managers, published announcements matching the audience for everyone else.
func (s *Service) ListAnnouncements(ctx context.Context, sess Session) ([]store.Announcement, error) {
	all, err := s.store.ListAnnouncements(ctx)
	if err != nil {
		return nil, err
	}
	if s.Can(sess, rbac.PermManageAnnouncements) {
		return all, nil
	}

	visible := make([]store.Announcement, 0, len(all))
	for _, a := range all {
		if a.Status != "published" {
			continue
		}
		if !audienceMatches(a.Audience, sess.Role, sess.Domain) {
			continue
		}
		visible = append(visible, a)
	}
	return visible, nil
}

// DeleteAnnouncement removes an announcement and its attachment.
func (s *Service) DeleteAnnouncement(ctx context.Context, sess Session, id string) error {
	if !s.Can(sess, rbac.PermManageAnnouncements) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	announcement, err := s.store.GetAnnouncement(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAnnouncement(ctx, id); err != nil {
		return err
	}
	if announcement.AttachmentKey != "" && s.files != nil {
		if err := s.files.Delete(ctx, announcement.AttachmentKey); err != nil {
			s.log.Warn().Err(err).Str("key", announcement.AttachmentKey).Msg("delete announcement attachment")
		}
	}
	if s.search != nil {
		s.search.DeleteAnnouncement(id)
	}
	s.publish("announcements")
	s.logActivity(sess, categorySite, fmt.Sprintf("%s deleted announcement %q", sess.UserName, announcement.Title))
	return nil
}

func (s *Service) notifyAudience(ctx context.Context, sess Session, announcement store.Announcement) {
	if s.mail == nil || !s.mail.IsConfigured() || !s.Can(sess, rbac.PermSendNotifications) {
		return
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("load users for announcement notification")
		return
	}
	var recipients []string
	for _, user := range users {
		if !audienceMatches(announcement.Audience, user.Role, user.Domain) {
			continue
		}
		recipients = append(recipients, util.NormalizeEmail(user.Email))
	}
	if len(recipients) == 0 {
		return
	}
	sort.Strings(recipients)
	subject := "Announcement: " + announcement.Title
	s.sendMail("announcement", func() error {
		return s.mail.SendEmail(recipients, subject, announcement.Content)
	})
}

// SuggestionInput is the write shape for suggestions.
type SuggestionInput struct {
	Title       string
	Description string
	Category    string
	Priority    string
	Anonymous   bool
}

func maskSuggestion(suggestion store.Suggestion, canManage bool) store.Suggestion {
	if suggestion.Anonymous && !canManage {
		suggestion.SubmittedBy = nil
	}
	return suggestion
}

// CreateSuggestion files a suggestion. Anyone signed in may file one,
// optionally anonymously.
func (s *Service) CreateSuggestion(ctx context.Context, sess Session, input SuggestionInput) (store.Suggestion, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Suggestion{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title is required", nil)
	}
	email := util.NormalizeEmail(sess.Email)
	suggestion := store.Suggestion{
		ID:          util.NewID("sug"),
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		Priority:    input.Priority,
		Status:      "Open",
		SubmittedBy: &email,
		Anonymous:   input.Anonymous,
	}
	if err := s.store.InsertSuggestion(ctx, suggestion); err != nil {
		return store.Suggestion{}, fmt.Errorf("insert suggestion: %w", err)
	}

	s.publish("suggestions")
	if input.Anonymous {
		s.logActivity(sess, categorySite, fmt.Sprintf("an anonymous suggestion %q was filed", input.Title))
	} else {
		s.logActivity(sess, categorySite, fmt.Sprintf("%s filed suggestion %q", sess.UserName, input.Title))
	}

	created, err := s.store.GetSuggestion(ctx, suggestion.ID)
	if err != nil {
		return store.Suggestion{}, err
	}
	return maskSuggestion(created, s.Can(sess, rbac.PermManageSuggestions)), nil
}

// ListSuggestions returns every suggestion, masking anonymous submitters
// for viewers without management rights.
func (s *Service) ListSuggestions(ctx context.Context, sess Session) ([]store.Suggestion, error) {
	all, err := s.store.ListSuggestions(ctx)
	if err != nil {
		return nil, err
	}
	canManage := s.Can(sess, rbac.PermManageSuggestions)
	out := make([]store.Suggestion, 0, len(all))
	for _, suggestion := range all {
		out = append(out, maskSuggestion(suggestion, canManage))
	}
	return out, nil
}

// GetSuggestion returns one suggestion with its responses.
func (s *Service) GetSuggestion(ctx context.Context, sess Session, id string) (store.Suggestion, []store.SuggestionResponse, error) {
	suggestion, err := s.store.GetSuggestion(ctx, id)
	if err != nil {
		return store.Suggestion{}, nil, err
	}
	responses, err := s.store.ListSuggestionResponses(ctx, id)
	if err != nil {
		return store.Suggestion{}, nil, err
	}
	return maskSuggestion(suggestion, s.Can(sess, rbac.PermManageSuggestions)), responses, nil
}

// SetSuggestionStatus moves a suggestion forward through its lifecycle. A
// move backward, or any unknown status, is rejected.
func (s *Service) SetSuggestionStatus(ctx context.Context, sess Session, id, status string) (store.Suggestion, error) {
	if !s.Can(sess, rbac.PermManageSuggestions) {
		return store.Suggestion{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	rank, ok := suggestionStatusRank[status]
	if !ok {
		return store.Suggestion{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown status", nil)
	}

	suggestion, err := s.store.GetSuggestion(ctx, id)
	if err != nil {
		return store.Suggestion{}, err
	}
	if rank <= suggestionStatusRank[suggestion.Status] {
		return store.Suggestion{}, domainError(http.StatusUnprocessableEntity, "INVALID_TRANSITION",
			fmt.Sprintf("cannot move suggestion from %s to %s", suggestion.Status, status), nil)
	}

	if err := s.store.UpdateSuggestionStatus(ctx, id, status); err != nil {
		return store.Suggestion{}, err
	}

	s.publish("suggestions")
	s.logActivity(sess, categorySite, fmt.Sprintf("%s moved suggestion %q to %s", sess.UserName, suggestion.Title, status))
	updated, err := s.store.GetSuggestion(ctx, id)
	if err != nil {
		return store.Suggestion{}, err
	}
	return maskSuggestion(updated, true), nil
}

// RespondToSuggestion adds a manager response to a suggestion.
func (s *Service) RespondToSuggestion(ctx context.Context, sess Session, id, text string) (store.SuggestionResponse, error) {
	if !s.Can(sess, rbac.PermManageSuggestions) {
		return store.SuggestionResponse{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if strings.TrimSpace(text) == "" {
		return store.SuggestionResponse{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "text is required", nil)
	}
	suggestion, err := s.store.GetSuggestion(ctx, id)
	if err != nil {
		return store.SuggestionResponse{}, err
	}

	response := store.SuggestionResponse{
		ID:           util.NewID("rsp"),
		SuggestionID: suggestion.ID,
		Author:       util.NormalizeEmail(sess.Email),
		Text:         text,
	}
	if err := s.store.InsertSuggestionResponse(ctx, response); err != nil {
		return store.SuggestionResponse{}, fmt.Errorf("insert response: %w", err)
	}

	s.publish("suggestions")
	s.logActivity(sess, categorySite, fmt.Sprintf("%s responded to suggestion %q", sess.UserName, suggestion.Title))
	return response, nil
}

// UpdateProfile changes the session user's display name and avatar.
func (s *Service) UpdateProfile(ctx context.Context, sess Session, displayName, avatarURL string) (store.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return store.User{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "displayName is required", nil)
	}
	if err := s.store.UpdateUserProfile(ctx, sess.UserID, displayName, avatarURL); err != nil {
		return store.User{}, err
	}
	s.logActivity(sess, categorySite, fmt.Sprintf("%s updated their profile", displayName))
	return s.store.GetUserByID(ctx, sess.UserID)
}

// ProfileStats summarizes a user's contribution record.
type ProfileStats struct {
	AssignedTasks    int     `json:"assignedTasks"`
	Submissions      int     `json:"submissions"`
	RatedSubmissions int     `json:"ratedSubmissions"`
	AverageScore     float64 `json:"averageScore"`
}

// GetProfile returns the session user's account and contribution stats.
func (s *Service) GetProfile(ctx context.Context, sess Session) (store.User, ProfileStats, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return store.User{}, ProfileStats{}, err
	}
	user.PasswordHash = ""

	email := util.NormalizeEmail(user.Email)
	tasks, err := s.store.ListTasksForAssignee(ctx, email)
	if err != nil {
		return store.User{}, ProfileStats{}, err
	}
	subs, err := s.store.ListAllSubmissions(ctx)
	if err != nil {
		return store.User{}, ProfileStats{}, err
	}

	stats := ProfileStats{AssignedTasks: len(tasks)}
	sum := 0
	for _, sub := range subs {
		if sub.Author != email {
			continue
		}
		stats.Submissions++
		if sub.QualityScore > 0 {
			stats.RatedSubmissions++
			sum += sub.QualityScore
		}
	}
	if stats.RatedSubmissions > 0 {
		stats.AverageScore = float64(sum) / float64(stats.RatedSubmissions)
	}
	return user, stats, nil
}
