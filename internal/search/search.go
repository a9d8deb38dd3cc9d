package search

import "strings"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTask         ResultType = "task"
	ResultAnnouncement ResultType = "announcement"
	ResultDoc          ResultType = "doc"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	Domain     string     `json:"domain,omitempty"`
	Visibility string     `json:"visibility,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterDomain string     // applies to tasks only
	Limit        int
	Offset       int
	ViewerRole   string
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Domain      string `json:"domain"`
}

// AnnouncementRecord is the data we index for an announcement.
type AnnouncementRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

// DocRecord is the data we index for a documentation item.
type DocRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	ViewableBy string `json:"viewableBy"` // comma-joined role names, empty = everyone
}

// JoinRoles flattens a role list into the indexed viewableBy form.
func JoinRoles(roles []string) string {
	return strings.Join(roles, ",")
}

// roleCanView checks a comma-joined role list against a viewer role. An
// empty list means unrestricted.
func roleCanView(viewableBy, role string) bool {
	if strings.TrimSpace(viewableBy) == "" {
		return true
	}
	for _, allowed := range strings.Split(viewableBy, ",") {
		if strings.TrimSpace(allowed) == role {
			return true
		}
	}
	return false
}
