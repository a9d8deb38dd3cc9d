package app

import (
	"time"

	"taskhub/api/internal/store"
)

// JSON shapes for API responses. Store models stay tag-free; the boundary
// converts.

type taskView struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Domain         string     `json:"domain"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	AttachmentKey  string     `json:"attachmentKey,omitempty"`
	Assignees      []string   `json:"assignees"`
	AssignedToLead bool       `json:"assignedToLead"`
	CreatedBy      string     `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func viewTask(task store.Task) taskView {
	assignees := task.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	return taskView{
		ID:             task.ID,
		Title:          task.Title,
		Description:    task.Description,
		Domain:         task.Domain,
		DueDate:        task.DueDate,
		AttachmentKey:  task.AttachmentKey,
		Assignees:      assignees,
		AssignedToLead: task.AssignedToLead,
		CreatedBy:      task.CreatedBy,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
	}
}

func viewTasks(tasks []store.Task) []taskView {
	out := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, viewTask(task))
	}
	return out
}

type submissionView struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"taskId"`
	Author       string     `json:"author"`
	ContentKey   string     `json:"contentKey"`
	Note         string     `json:"note,omitempty"`
	QualityScore int        `json:"qualityScore"`
	RatedBy      string     `json:"ratedBy,omitempty"`
	SubmittedAt  time.Time  `json:"submittedAt"`
	RatedAt      *time.Time `json:"ratedAt,omitempty"`
}

func viewSubmission(sub store.Submission) submissionView {
	return submissionView{
		ID:           sub.ID,
		TaskID:       sub.TaskID,
		Author:       sub.Author,
		ContentKey:   sub.ContentKey,
		Note:         sub.Note,
		QualityScore: sub.QualityScore,
		RatedBy:      sub.RatedBy,
		SubmittedAt:  sub.SubmittedAt,
		RatedAt:      sub.RatedAt,
	}
}

func viewSubmissions(subs []store.Submission) []submissionView {
	out := make([]submissionView, 0, len(subs))
	for _, sub := range subs {
		out = append(out, viewSubmission(sub))
	}
	return out
}

type suggestionView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Status      string    `json:"status"`
	SubmittedBy *string   `json:"submittedBy,omitempty"`
	Anonymous   bool      `json:"anonymous"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func viewSuggestion(suggestion store.Suggestion) suggestionView {
	return suggestionView{
		ID:          suggestion.ID,
		Title:       suggestion.Title,
		Description: suggestion.Description,
		Category:    suggestion.Category,
		Priority:    suggestion.Priority,
		Status:      suggestion.Status,
		SubmittedBy: suggestion.SubmittedBy,
		Anonymous:   suggestion.Anonymous,
		CreatedAt:   suggestion.CreatedAt,
		UpdatedAt:   suggestion.UpdatedAt,
	}
}

func viewSuggestions(suggestions []store.Suggestion) []suggestionView {
	out := make([]suggestionView, 0, len(suggestions))
	for _, suggestion := range suggestions {
		out = append(out, viewSuggestion(suggestion))
	}
	return out
}

type responseView struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func viewResponses(responses []store.SuggestionResponse) []responseView {
	out := make([]responseView, 0, len(responses))
	for _, response := range responses {
		out = append(out, responseView{
			ID:        response.ID,
			Author:    response.Author,
			Text:      response.Text,
			CreatedAt: response.CreatedAt,
		})
	}
	return out
}

type announcementView struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	AttachmentKey string     `json:"attachmentKey,omitempty"`
	Audience      string     `json:"audience"`
	Status        string     `json:"status"`
	Author        string     `json:"author"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func viewAnnouncement(a store.Announcement) announcementView {
	return announcementView{
		ID:            a.ID,
		Title:         a.Title,
		Content:       a.Content,
		AttachmentKey: a.AttachmentKey,
		Audience:      a.Audience,
		Status:        a.Status,
		Author:        a.Author,
		PublishedAt:   a.PublishedAt,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func viewAnnouncements(all []store.Announcement) []announcementView {
	out := make([]announcementView, 0, len(all))
	for _, a := range all {
		out = append(out, viewAnnouncement(a))
	}
	return out
}

type logEntryView struct {
	ID         int64     `json:"id"`
	Message    string    `json:"message"`
	Category   string    `json:"category"`
	ActorEmail string    `json:"actorEmail"`
	ActorName  string    `json:"actorName"`
	ActorRole  string    `json:"actorRole"`
	CreatedAt  time.Time `json:"createdAt"`
}

func viewLogEntries(entries []store.LogEntry) []logEntryView {
	out := make([]logEntryView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, logEntryView{
			ID:         entry.ID,
			Message:    entry.Message,
			Category:   entry.Category,
			ActorEmail: entry.ActorEmail,
			ActorName:  entry.ActorName,
			ActorRole:  entry.ActorRole,
			CreatedAt:  entry.CreatedAt,
		})
	}
	return out
}

type userView struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	Role         string    `json:"role"`
	Domain       string    `json:"domain,omitempty"`
	RoleRecordID *string   `json:"roleRecordId,omitempty"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"createdAt"`
}

func viewUser(user store.User) userView {
	return userView{
		ID:           user.ID,
		DisplayName:  user.DisplayName,
		Email:        user.Email,
		AvatarURL:    user.AvatarURL,
		Role:         user.Role,
		Domain:       user.Domain,
		RoleRecordID: user.RoleRecordID,
		Verified:     user.IsEmailVerified,
		CreatedAt:    user.CreatedAt,
	}
}

func viewUsers(users []store.User) []userView {
	out := make([]userView, 0, len(users))
	for _, user := range users {
		out = append(out, viewUser(user))
	}
	return out
}

type domainView struct {
	Name      string    `json:"name"`
	Lead      string    `json:"lead"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func viewDomain(domain store.Domain) domainView {
	members := domain.Members
	if members == nil {
		members = []string{}
	}
	return domainView{
		Name:      domain.Name,
		Lead:      domain.Lead,
		Members:   members,
		CreatedAt: domain.CreatedAt,
		UpdatedAt: domain.UpdatedAt,
	}
}

func viewDomains(domains []store.Domain) []domainView {
	out := make([]domainView, 0, len(domains))
	for _, domain := range domains {
		out = append(out, viewDomain(domain))
	}
	return out
}

type roleRecordView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func viewRoleRecord(record store.RoleRecord) roleRecordView {
	perms := record.Permissions
	if perms == nil {
		perms = []string{}
	}
	return roleRecordView{
		ID:          record.ID,
		Name:        record.Name,
		Permissions: perms,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func viewRoleRecords(records []store.RoleRecord) []roleRecordView {
	out := make([]roleRecordView, 0, len(records))
	for _, record := range records {
		out = append(out, viewRoleRecord(record))
	}
	return out
}
