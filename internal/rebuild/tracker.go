package rebuild

import (
	"context"
	"fmt"

	"snapwatch/internal/github"
)

// TrackerRepo adapts a github.Client to the Tracker interface for one
// repository.
type TrackerRepo struct {
	Client *github.Client
	Owner  string
	Repo   string
}

func (t *TrackerRepo) NewestIssue(ctx context.Context, label string) (*github.Issue, bool, error) {
	query := fmt.Sprintf("repo:%s/%s is:issue label:%s", t.Owner, t.Repo, label)
	result, err := t.Client.SearchIssues(ctx, query)
	if err != nil {
		return nil, false, err
	}
	if len(result.Items) == 0 {
		return nil, false, nil
	}
	return &result.Items[0], true, nil
}

func (t *TrackerRepo) CreateIssue(ctx context.Context, issue github.NewIssue) (*github.Issue, error) {
	return t.Client.Repo(t.Owner, t.Repo).Issues().Create(ctx, issue)
}

func (t *TrackerRepo) EnsureLabel(ctx context.Context, label github.Label) error {
	return t.Client.Repo(t.Owner, t.Repo).Labels().Ensure(ctx, label)
}

func (t *TrackerRepo) DispatchWorkflow(ctx context.Context, workflowFile, ref string, inputs map[string]string) error {
	return t.Client.Repo(t.Owner, t.Repo).Actions().DispatchWorkflow(ctx, workflowFile, ref, inputs)
}
