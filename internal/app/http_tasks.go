package app

import (
	"net/http"
	"strings"
)

// handleTasks routes everything under /api/tasks.
func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			tasks, err := s.service.ListTasks(r.Context(), session)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tasks": viewTasks(tasks)})
		case http.MethodPost:
			input, ok := decodeTaskInput(w, r)
			if !ok {
				return
			}
			task, err := s.service.CreateTask(r.Context(), session, input)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"task": viewTask(task)})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	taskID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			task, err := s.service.GetTask(r.Context(), session, taskID)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"task": viewTask(task)})
		case http.MethodPut:
			input, ok := decodeTaskInput(w, r)
			if !ok {
				return
			}
			task, err := s.service.UpdateTask(r.Context(), session, taskID, input)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"task": viewTask(task)})
		case http.MethodDelete:
			if err := s.service.DeleteTask(r.Context(), session, taskID); err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "attachment-url" && r.Method == http.MethodGet {
		url, err := s.service.TaskAttachmentURL(r.Context(), session, taskID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"downloadUrl": url})
		return
	}

	if len(parts) == 4 && parts[3] == "submissions" {
		switch r.Method {
		case http.MethodGet:
			subs, err := s.service.ListSubmissions(r.Context(), session, taskID)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"submissions": viewSubmissions(subs)})
		case http.MethodPost:
			var body struct {
				ContentKey string `json:"contentKey"`
				Note       string `json:"note"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			submission, err := s.service.SubmitWork(r.Context(), session, taskID, SubmissionInput{
				ContentKey: body.ContentKey,
				Note:       body.Note,
			})
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"submission": viewSubmission(submission)})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	if len(parts) == 6 && parts[3] == "submissions" && parts[5] == "rating" && r.Method == http.MethodPost {
		var body struct {
			Score int `json:"score"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		submission, err := s.service.RateSubmission(r.Context(), session, taskID, parts[4], body.Score)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"submission": viewSubmission(submission)})
		return
	}

	if len(parts) == 6 && parts[3] == "submissions" && parts[5] == "content-url" && r.Method == http.MethodGet {
		url, err := s.service.SubmissionContentURL(r.Context(), session, taskID, parts[4])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"downloadUrl": url})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func decodeTaskInput(w http.ResponseWriter, r *http.Request) (TaskInput, bool) {
	var body struct {
		Title          string   `json:"title"`
		Description    string   `json:"description"`
		Domain         string   `json:"domain"`
		DueDate        string   `json:"dueDate"`
		Assignees      []string `json:"assignees"`
		AssignedToLead bool     `json:"assignedToLead"`
		AttachmentKey  string   `json:"attachmentKey"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return TaskInput{}, false
	}
	return TaskInput{
		Title:          strings.TrimSpace(body.Title),
		Description:    body.Description,
		Domain:         strings.TrimSpace(body.Domain),
		DueDate:        strings.TrimSpace(body.DueDate),
		Assignees:      body.Assignees,
		AssignedToLead: body.AssignedToLead,
		AttachmentKey:  body.AttachmentKey,
	}, true
}
