package app

import (
	"net/http"
	"net/url"
	"strings"

	"taskhub/api/internal/store"
)

func pathParam(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// handleExtended routes announcements, suggestions, documentation, and the
// admin subtree. Called after session resolution with the split path.
func (s *HTTPServer) handleExtended(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) >= 2 && parts[0] == "api" {
		switch parts[1] {
		case "announcements":
			s.handleAnnouncements(w, r, session, parts)
			return
		case "suggestions":
			s.handleSuggestions(w, r, session, parts)
			return
		case "docs":
			s.handleDocs(w, r, session, parts)
			return
		case "admin":
			s.handleAdmin(w, r, session, parts)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAnnouncements(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			announcements, err := s.service.ListAnnouncements(r.Context(), session)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"announcements": viewAnnouncements(announcements)})
		case http.MethodPost:
			var body struct {
				Title         string `json:"title"`
				Content       string `json:"content"`
				Audience      string `json:"audience"`
				AttachmentKey string `json:"attachmentKey"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			announcement, err := s.service.CreateAnnouncement(r.Context(), session, AnnouncementInput{
				Title:         strings.TrimSpace(body.Title),
				Content:       body.Content,
				Audience:      strings.TrimSpace(body.Audience),
				AttachmentKey: body.AttachmentKey,
			})
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"announcement": viewAnnouncement(announcement)})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteAnnouncement(r.Context(), session, parts[2]); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "status" && r.Method == http.MethodPut {
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		announcement, err := s.service.SetAnnouncementStatus(r.Context(), session, parts[2], strings.TrimSpace(body.Status))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"announcement": viewAnnouncement(announcement)})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSuggestions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			suggestions, err := s.service.ListSuggestions(r.Context(), session)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"suggestions": viewSuggestions(suggestions)})
		case http.MethodPost:
			var body struct {
				Title       string `json:"title"`
				Description string `json:"description"`
				Category    string `json:"category"`
				Priority    string `json:"priority"`
				Anonymous   bool   `json:"anonymous"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			suggestion, err := s.service.CreateSuggestion(r.Context(), session, SuggestionInput{
				Title:       strings.TrimSpace(body.Title),
				Description: body.Description,
				Category:    body.Category,
				Priority:    body.Priority,
				Anonymous:   body.Anonymous,
			})
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"suggestion": viewSuggestion(suggestion)})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		suggestion, responses, err := s.service.GetSuggestion(r.Context(), session, parts[2])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"suggestion": viewSuggestion(suggestion),
			"responses":  viewResponses(responses),
		})
		return
	}

	if len(parts) == 4 && parts[3] == "status" && r.Method == http.MethodPut {
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		suggestion, err := s.service.SetSuggestionStatus(r.Context(), session, parts[2], strings.TrimSpace(body.Status))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestion": viewSuggestion(suggestion)})
		return
	}

	if len(parts) == 4 && parts[3] == "responses" && r.Method == http.MethodPost {
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		response, err := s.service.RespondToSuggestion(r.Context(), session, parts[2], strings.TrimSpace(body.Text))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"response": viewResponses([]store.SuggestionResponse{response})[0]})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocs(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		tree, err := s.service.ListDocs(r.Context(), session)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": tree})
		return
	}

	if len(parts) == 3 && parts[2] == "folders" && r.Method == http.MethodPost {
		input, ok := decodeDocInput(w, r)
		if !ok {
			return
		}
		item, err := s.service.CreateDocFolder(r.Context(), session, input)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": newDocNode(item)})
		return
	}

	if len(parts) == 3 && parts[2] == "files" && r.Method == http.MethodPost {
		input, ok := decodeDocInput(w, r)
		if !ok {
			return
		}
		item, uploadURL, err := s.service.CreateDocFile(r.Context(), session, input)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": newDocNode(item), "uploadUrl": uploadURL})
		return
	}

	if len(parts) == 4 && parts[3] == "download-url" && r.Method == http.MethodGet {
		url, err := s.service.DocDownloadURL(r.Context(), session, parts[2])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"downloadUrl": url})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteDocItem(r.Context(), session, parts[2]); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func decodeDocInput(w http.ResponseWriter, r *http.Request) (DocItemInput, bool) {
	var body struct {
		Name       string   `json:"name"`
		ParentID   *string  `json:"parentId"`
		MimeType   string   `json:"mimeType"`
		ViewableBy []string `json:"viewableBy"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return DocItemInput{}, false
	}
	return DocItemInput{
		Name:       strings.TrimSpace(body.Name),
		ParentID:   body.ParentID,
		MimeType:   body.MimeType,
		ViewableBy: body.ViewableBy,
	}, true
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 3 && parts[2] == "directory" && r.Method == http.MethodGet {
		domains, specials, err := s.service.ListDirectory(r.Context(), session)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"domains":      viewDomains(domains),
			"specialRoles": specials,
		})
		return
	}

	if len(parts) == 3 && parts[2] == "domains" && r.Method == http.MethodPost {
		var body struct {
			Name    string   `json:"name"`
			Lead    string   `json:"lead"`
			Members []string `json:"members"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		domain, err := s.service.CreateDomain(r.Context(), session, body.Name, body.Lead, body.Members)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"domain": viewDomain(domain)})
		return
	}

	if len(parts) == 5 && parts[2] == "domains" && parts[4] == "members" && r.Method == http.MethodPost {
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		domain, err := s.service.AddDomainMember(r.Context(), session, pathParam(parts[3]), body.Email)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"domain": viewDomain(domain)})
		return
	}

	if len(parts) == 6 && parts[2] == "domains" && parts[4] == "members" && r.Method == http.MethodDelete {
		domain, err := s.service.RemoveDomainMember(r.Context(), session, pathParam(parts[3]), pathParam(parts[5]))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"domain": viewDomain(domain)})
		return
	}

	if len(parts) == 5 && parts[2] == "domains" && parts[4] == "lead" && r.Method == http.MethodPut {
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		domain, err := s.service.SetDomainLead(r.Context(), session, pathParam(parts[3]), body.Email)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"domain": viewDomain(domain)})
		return
	}

	if len(parts) == 3 && parts[2] == "special-roles" && r.Method == http.MethodPut {
		var body struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetSpecialRole(r.Context(), session, body.Email, strings.TrimSpace(body.Role)); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 3 && parts[2] == "users" && r.Method == http.MethodGet {
		users, err := s.service.ListUsers(r.Context(), session)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": viewUsers(users)})
		return
	}

	if len(parts) == 5 && parts[2] == "users" && parts[4] == "role-record" && r.Method == http.MethodPut {
		var body struct {
			RoleRecordID *string `json:"roleRecordId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.AssignRoleRecord(r.Context(), session, parts[3], body.RoleRecordID); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 3 && parts[2] == "role-records" {
		switch r.Method {
		case http.MethodGet:
			records, err := s.service.ListRoleRecords(r.Context(), session)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"roleRecords": viewRoleRecords(records)})
		case http.MethodPost:
			var body struct {
				Name        string   `json:"name"`
				Permissions []string `json:"permissions"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			record, err := s.service.CreateRoleRecord(r.Context(), session, body.Name, body.Permissions)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"roleRecord": viewRoleRecord(record)})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	if len(parts) == 4 && parts[2] == "role-records" {
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Name        string   `json:"name"`
				Permissions []string `json:"permissions"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			record, err := s.service.UpdateRoleRecord(r.Context(), session, parts[3], body.Name, body.Permissions)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"roleRecord": viewRoleRecord(record)})
		case http.MethodDelete:
			if err := s.service.DeleteRoleRecord(r.Context(), session, parts[3]); err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
