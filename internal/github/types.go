package github

import "time"

// Issue is a tracker issue as returned by the issues and search APIs.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	HTMLURL   string    `json:"html_url"`
	Labels    []Label   `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LabelNames returns the issue's label names in declaration order.
func (i *Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	return names
}

// Label is a tracker label. Color is a hex RGB string without the
// leading '#'.
type Label struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewIssue carries the fields for creating an issue.
type NewIssue struct {
	Title  string   `json:"title"`
	Body   string   `json:"body,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

// IssueEdit carries a partial issue update. Nil fields are left
// unchanged tracker-side; a non-nil Labels replaces the full label set.
type IssueEdit struct {
	Title  *string   `json:"title,omitempty"`
	Body   *string   `json:"body,omitempty"`
	State  *string   `json:"state,omitempty"`
	Labels *[]string `json:"labels,omitempty"`
}

// String returns a pointer to v, for use in IssueEdit literals.
func String(v string) *string { return &v }

// Comment is an issue comment.
type Comment struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

// SearchResult is the envelope of the issue search API.
type SearchResult struct {
	TotalCount int     `json:"total_count"`
	Items      []Issue `json:"items"`
}

type errorResponse struct {
	Message string `json:"message"`
}
