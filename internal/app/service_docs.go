package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"taskhub/api/internal/blob"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

// DocItemInput is the write shape for documentation nodes.
type DocItemInput struct {
	Name       string
	ParentID   *string
	MimeType   string
	ViewableBy []string
}

// DocNode is one documentation tree node with its children. The storage key
// stays server-side; clients fetch content through presigned URLs.
type DocNode struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	ParentID   *string    `json:"parentId,omitempty"`
	MimeType   string     `json:"mimeType,omitempty"`
	ViewableBy []string   `json:"viewableBy,omitempty"`
	CreatedBy  string     `json:"createdBy"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Children   []*DocNode `json:"children,omitempty"`
}

func newDocNode(item store.DocItem) *DocNode {
	return &DocNode{
		ID:         item.ID,
		Name:       item.Name,
		Kind:       item.Kind,
		ParentID:   item.ParentID,
		MimeType:   item.MimeType,
		ViewableBy: item.ViewableBy,
		CreatedBy:  item.CreatedBy,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
	}
}

var validDocRoles = map[string]bool{
	string(rbac.RoleSuperAdmin): true,
	string(rbac.RoleAdmin):      true,
	string(rbac.RoleDomainLead): true,
	string(rbac.RoleMember):     true,
}

func (s *Service) validateDocInput(ctx context.Context, input DocItemInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	for _, role := range input.ViewableBy {
		if !validDocRoles[role] {
			return domainError(http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("unknown role %q in viewableBy", role), nil)
		}
	}
	if input.ParentID != nil {
		parent, err := s.store.GetDocItem(ctx, *input.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domainError(http.StatusNotFound, "PARENT_NOT_FOUND", "Parent folder not found", nil)
			}
			return err
		}
		if parent.Kind != "folder" {
			return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "parent must be a folder", nil)
		}
	}
	return nil
}

// CreateDocFolder adds a folder to the documentation tree.
func (s *Service) CreateDocFolder(ctx context.Context, sess Session, input DocItemInput) (store.DocItem, error) {
	if !s.Can(sess, rbac.PermManageDocumentation) {
		return store.DocItem{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.validateDocInput(ctx, input); err != nil {
		return store.DocItem{}, err
	}

	item := store.DocItem{
		ID:         util.NewID("doc"),
		Name:       input.Name,
		Kind:       "folder",
		ParentID:   input.ParentID,
		ViewableBy: input.ViewableBy,
		CreatedBy:  util.NormalizeEmail(sess.Email),
	}
	if err := s.store.InsertDocItem(ctx, item); err != nil {
		return store.DocItem{}, fmt.Errorf("insert doc folder: %w", err)
	}

	s.logActivity(sess, categorySite, fmt.Sprintf("%s created folder %q", sess.UserName, input.Name))
	return s.store.GetDocItem(ctx, item.ID)
}

// CreateDocFile registers a file node and returns it with a time-limited
// upload URL for the content.
func (s *Service) CreateDocFile(ctx context.Context, sess Session, input DocItemInput) (store.DocItem, string, error) {
	if !s.Can(sess, rbac.PermManageDocumentation) {
		return store.DocItem{}, "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if s.files == nil {
		return store.DocItem{}, "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	if err := s.validateDocInput(ctx, input); err != nil {
		return store.DocItem{}, "", err
	}

	key := blob.ObjectKey("docs", input.Name)
	item := store.DocItem{
		ID:         util.NewID("doc"),
		Name:       input.Name,
		Kind:       "file",
		ParentID:   input.ParentID,
		StorageKey: key,
		MimeType:   input.MimeType,
		ViewableBy: input.ViewableBy,
		CreatedBy:  util.NormalizeEmail(sess.Email),
	}
	if err := s.store.InsertDocItem(ctx, item); err != nil {
		return store.DocItem{}, "", fmt.Errorf("insert doc file: %w", err)
	}

	uploadURL, err := s.files.PresignPut(ctx, key)
	if err != nil {
		return store.DocItem{}, "", fmt.Errorf("presign doc upload: %w", err)
	}

	if s.search != nil {
		s.search.IndexDoc(search.DocRecord{
			ID: item.ID, Name: item.Name, Kind: item.Kind,
			ViewableBy: search.JoinRoles(item.ViewableBy),
		})
	}
	s.logActivity(sess, categorySite, fmt.Sprintf("%s uploaded %q", sess.UserName, input.Name))

	created, err := s.store.GetDocItem(ctx, item.ID)
	if err != nil {
		return item, uploadURL, nil
	}
	return created, uploadURL, nil
}

func docVisible(item store.DocItem, role rbac.Role) bool {
	if role == rbac.RoleSuperAdmin || role == rbac.RoleAdmin {
		return true
	}
	if len(item.ViewableBy) == 0 {
		return true
	}
	for _, allowed := range item.ViewableBy {
		if allowed == string(role) {
			return true
		}
	}
	return false
}

// ListDocs returns the documentation tree visible to the session. A hidden
// folder hides everything under it.
func (s *Service) ListDocs(ctx context.Context, sess Session) ([]*DocNode, error) {
	items, err := s.store.ListDocItems(ctx)
	if err != nil {
		return nil, err
	}
	role := rbac.Normalize(sess.Role)

	nodes := make(map[string]*DocNode, len(items))
	for _, item := range items {
		if !docVisible(item, role) {
			continue
		}
		nodes[item.ID] = newDocNode(item)
	}

	var roots []*DocNode
	for _, item := range items {
		node, ok := nodes[item.ID]
		if !ok {
			continue
		}
		if item.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*item.ParentID]
		if !ok {
			// Parent hidden from this viewer; the subtree stays hidden too.
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	if roots == nil {
		roots = []*DocNode{}
	}
	return roots, nil
}

// DocDownloadURL returns a time-limited download URL for a file node.
func (s *Service) DocDownloadURL(ctx context.Context, sess Session, id string) (string, error) {
	item, err := s.store.GetDocItem(ctx, id)
	if err != nil {
		return "", err
	}
	if !docVisible(item, rbac.Normalize(sess.Role)) {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if item.Kind != "file" {
		return "", domainError(http.StatusBadRequest, "VALIDATION_ERROR", "folders have no content", nil)
	}
	if s.files == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	url, err := s.files.PresignGet(ctx, item.StorageKey, item.Name)
	if err != nil {
		return "", fmt.Errorf("presign doc download: %w", err)
	}
	return url, nil
}

// DeleteDocItem removes a node. Deleting a folder removes the whole subtree:
// stored objects are deleted best effort, one failed object never aborts the
// walk, and the database rows go in a single transaction at the end.
func (s *Service) DeleteDocItem(ctx context.Context, sess Session, id string) error {
	if !s.Can(sess, rbac.PermManageDocumentation) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	item, err := s.store.GetDocItem(ctx, id)
	if err != nil {
		return err
	}

	doomed := []store.DocItem{item}
	if item.Kind == "folder" {
		all, err := s.store.ListDocItems(ctx)
		if err != nil {
			return err
		}
		children := make(map[string][]store.DocItem)
		for _, candidate := range all {
			if candidate.ParentID != nil {
				children[*candidate.ParentID] = append(children[*candidate.ParentID], candidate)
			}
		}
		queue := []string{item.ID}
		for len(queue) > 0 {
			parentID := queue[0]
			queue = queue[1:]
			for _, child := range children[parentID] {
				doomed = append(doomed, child)
				if child.Kind == "folder" {
					queue = append(queue, child.ID)
				}
			}
		}
	}

	ids := make([]string, 0, len(doomed))
	for _, node := range doomed {
		ids = append(ids, node.ID)
		if node.Kind == "file" && node.StorageKey != "" && s.files != nil {
			if err := s.files.Delete(ctx, node.StorageKey); err != nil {
				s.log.Warn().Err(err).Str("key", node.StorageKey).Msg("delete doc object")
			}
		}
	}

	if err := s.store.DeleteDocItems(ctx, ids); err != nil {
		return fmt.Errorf("delete doc items: %w", err)
	}

	if s.search != nil {
		for _, docID := range ids {
			s.search.DeleteDoc(docID)
		}
	}
	s.logActivity(sess, categorySite, fmt.Sprintf("%s deleted %q and %d nested items", sess.UserName, item.Name, len(ids)-1))
	return nil
}
