package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// RepoScope provides operations on a single owner/name repository.
type RepoScope struct {
	client *Client
	owner  string
	name   string
}

// Owner returns the repository owner.
func (r *RepoScope) Owner() string { return r.owner }

// Name returns the repository name.
func (r *RepoScope) Name() string { return r.name }

// Slug returns "owner/name".
func (r *RepoScope) Slug() string { return r.owner + "/" + r.name }

// Issues returns the issue scope for this repository.
func (r *RepoScope) Issues() *IssueScope { return &IssueScope{repo: r} }

// Labels returns the label scope for this repository.
func (r *RepoScope) Labels() *LabelScope { return &LabelScope{repo: r} }

// Actions returns the workflow scope for this repository.
func (r *RepoScope) Actions() *ActionScope { return &ActionScope{repo: r} }

func jsonBody(v any) (*bytes.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return bytes.NewReader(data), nil
}

// IssueScope provides issue operations within a repository.
type IssueScope struct {
	repo *RepoScope
}

// Get returns a single issue by number.
func (s *IssueScope) Get(ctx context.Context, number int) (*Issue, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/issues/%d",
		s.repo.client.baseURL, s.repo.owner, s.repo.name, number)

	var issue Issue
	if err := s.repo.client.doJSON(ctx, "GET", u, "get issue", nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// Create opens a new issue.
func (s *IssueScope) Create(ctx context.Context, in NewIssue) (*Issue, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/issues",
		s.repo.client.baseURL, s.repo.owner, s.repo.name)

	body, err := jsonBody(in)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := s.repo.client.doJSON(ctx, "POST", u, "create issue", body, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// Edit applies a partial update to an issue.
func (s *IssueScope) Edit(ctx context.Context, number int, edit IssueEdit) (*Issue, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/issues/%d",
		s.repo.client.baseURL, s.repo.owner, s.repo.name, number)

	body, err := jsonBody(edit)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := s.repo.client.doJSON(ctx, "PATCH", u, "edit issue", body, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// Comment adds a comment to an issue.
func (s *IssueScope) Comment(ctx context.Context, number int, text string) (*Comment, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments",
		s.repo.client.baseURL, s.repo.owner, s.repo.name, number)

	body, err := jsonBody(map[string]string{"body": text})
	if err != nil {
		return nil, err
	}
	var comment Comment
	if err := s.repo.client.doJSON(ctx, "POST", u, "create comment", body, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// LabelScope provides label operations within a repository.
type LabelScope struct {
	repo *RepoScope
}

// Get returns a label by name.
func (s *LabelScope) Get(ctx context.Context, name string) (*Label, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/labels/%s",
		s.repo.client.baseURL, s.repo.owner, s.repo.name, url.PathEscape(name))

	var label Label
	if err := s.repo.client.doJSON(ctx, "GET", u, "get label", nil, &label); err != nil {
		return nil, err
	}
	return &label, nil
}

// Create registers a new label.
func (s *LabelScope) Create(ctx context.Context, label Label) error {
	u := fmt.Sprintf("%s/repos/%s/%s/labels",
		s.repo.client.baseURL, s.repo.owner, s.repo.name)

	body, err := jsonBody(label)
	if err != nil {
		return err
	}
	return s.repo.client.doJSON(ctx, "POST", u, "create label", body, nil)
}

// Ensure creates the label if it does not exist yet. A concurrent
// creation losing the race is treated as success.
func (s *LabelScope) Ensure(ctx context.Context, label Label) error {
	_, err := s.Get(ctx, label.Name)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return err
	}
	err = s.Create(ctx, label)
	if err != nil && IsValidationFailed(err) {
		return nil
	}
	return err
}

// ActionScope provides workflow operations within a repository.
type ActionScope struct {
	repo *RepoScope
}

// DispatchWorkflow triggers a workflow_dispatch event for the workflow
// file (e.g. "bisect.yml") on the given ref with the given inputs.
func (s *ActionScope) DispatchWorkflow(ctx context.Context, workflowFile, ref string, inputs map[string]string) error {
	u := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches",
		s.repo.client.baseURL, s.repo.owner, s.repo.name, url.PathEscape(workflowFile))

	payload := map[string]any{"ref": ref}
	if len(inputs) > 0 {
		payload["inputs"] = inputs
	}
	body, err := jsonBody(payload)
	if err != nil {
		return err
	}
	return s.repo.client.doJSON(ctx, "POST", u, "dispatch workflow", body, nil)
}
