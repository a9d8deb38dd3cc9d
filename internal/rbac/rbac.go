// Package rbac is the single authorization decision point. Every route and
// service operation consults Can/CanInDomain instead of comparing role strings
// inline.
package rbac

import (
	"errors"

	"taskhub/api/internal/util"
)

type Role string
type Permission string

const (
	RoleSuperAdmin Role = "super-admin"
	RoleAdmin      Role = "admin"
	RoleDomainLead Role = "domain-lead"
	RoleMember     Role = "member"
)

const (
	PermManageUsers         Permission = "manage-users"
	PermManageDomains       Permission = "manage-domains"
	PermManageRoles         Permission = "manage-roles"
	PermCreateTasks         Permission = "create-tasks"
	PermReviewSubmissions   Permission = "review-submissions"
	PermSubmitWork          Permission = "submit-work"
	PermManageAnnouncements Permission = "manage-announcements"
	PermManageDocumentation Permission = "manage-documentation"
	PermManageSuggestions   Permission = "manage-suggestions"
	PermViewLogs            Permission = "view-logs"
	PermSendNotifications   Permission = "send-notifications"
)

// ErrUnmappedIdentity is returned when an email is neither in any domain
// roster nor in the special-roles map. Callers surface this as an explicit
// error state requiring administrator attention; there is no silent member
// fallback.
var ErrUnmappedIdentity = errors.New("identity has no domain or special-role assignment")

// Domain is one entry of the domain configuration: a single lead plus a
// member roster.
type Domain struct {
	Name    string
	Lead    string
	Members []string
}

// Directory is the authorization source of truth: every domain roster plus
// the special-roles map that bootstraps super-admins and admins outside the
// domain structure.
type Directory struct {
	Domains      []Domain
	SpecialRoles map[string]Role
}

// Assignment is the outcome of resolving an email against the directory.
type Assignment struct {
	Role   Role
	Domain string
}

// Subject is the authenticated principal an authorization decision is made
// about. Grants carries the permission set of an attached role record; nil
// means no granular record is attached and coarse role defaults apply.
type Subject struct {
	Email  string
	Role   Role
	Domain string
	Grants []Permission
}

// IsAuthorized reports whether the email appears in any domain's lead or
// member roster, or in the special-roles map.
func IsAuthorized(dir Directory, email string) bool {
	_, err := ResolveRole(dir, email)
	return err == nil
}

// ResolveRole maps an email to its role and domain. Special roles win over
// domain membership so a bootstrapped admin who also appears in a roster is
// not demoted. An email matched by no entry yields ErrUnmappedIdentity.
func ResolveRole(dir Directory, email string) (Assignment, error) {
	normalized := util.NormalizeEmail(email)
	if normalized == "" {
		return Assignment{}, ErrUnmappedIdentity
	}

	if role, ok := dir.SpecialRoles[normalized]; ok {
		return Assignment{Role: role}, nil
	}

	for _, domain := range dir.Domains {
		if util.NormalizeEmail(domain.Lead) == normalized {
			return Assignment{Role: RoleDomainLead, Domain: domain.Name}, nil
		}
		for _, member := range domain.Members {
			if util.NormalizeEmail(member) == normalized {
				return Assignment{Role: RoleMember, Domain: domain.Name}, nil
			}
		}
	}

	return Assignment{}, ErrUnmappedIdentity
}

// Can is the central policy decision. A granular grant from an attached role
// record allows the action outright; otherwise the coarse role defaults
// decide. Grants extend the defaults, they never restrict them.
func Can(subject Subject, perm Permission) bool {
	for _, grant := range subject.Grants {
		if grant == perm {
			return true
		}
	}
	return roleAllows(subject.Role, perm)
}

// CanInDomain decides a domain-scoped action. Admins act in any domain; a
// domain lead only within their own.
func CanInDomain(subject Subject, perm Permission, domain string) bool {
	if !Can(subject, perm) {
		return false
	}
	switch subject.Role {
	case RoleSuperAdmin, RoleAdmin:
		return true
	default:
		return subject.Domain != "" && subject.Domain == domain
	}
}

func roleAllows(role Role, perm Permission) bool {
	switch role {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return perm != PermManageRoles
	case RoleDomainLead:
		return perm == PermCreateTasks ||
			perm == PermReviewSubmissions ||
			perm == PermSubmitWork ||
			perm == PermManageSuggestions
	case RoleMember:
		return perm == PermSubmitWork
	default:
		return false
	}
}

// Normalize maps a stored role string onto the known set, defaulting to
// member for anything unrecognized.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleSuperAdmin, RoleAdmin, RoleDomainLead, RoleMember:
		return Role(role)
	default:
		return RoleMember
	}
}

// RequiresDomain reports whether the role must carry a non-empty domain.
// Domain leads and members always belong to a domain; admins never need one.
func RequiresDomain(role Role) bool {
	return role == RoleDomainLead || role == RoleMember
}
