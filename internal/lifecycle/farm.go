package lifecycle

import (
	"context"

	"snapwatch/internal/copr"
)

// Farm is the build-farm surface rotation and promotion consume. The
// owner is fixed per Farm; project arguments are bare names.
type Farm interface {
	ProjectExists(ctx context.Context, project string) (bool, error)
	CreateProject(ctx context.Context, project string, settings copr.ProjectSettings) error
	DeleteProject(ctx context.Context, project string) error
	ForkProject(ctx context.Context, from, to string) error
	EditProject(ctx context.Context, project string, edit copr.ProjectEdit) error
	RegenerateRepos(ctx context.Context, project string) error
	Monitor(ctx context.Context, project string) ([]copr.BuildRecord, error)
	ActiveBuildIDs(ctx context.Context, project string) ([]int64, error)
	CancelBuild(ctx context.Context, buildID int64) error
	AddPackage(ctx context.Context, project, pkg string, source copr.PackageSource) error
	StartBuild(ctx context.Context, project, pkg string, chroots []string, afterBuildID int64) (int64, error)
}

// CoprFarm adapts a copr.Client to the Farm interface for one owner.
type CoprFarm struct {
	Client *copr.Client
	Owner  string
}

func (f *CoprFarm) scope(project string) *copr.ProjectScope {
	return f.Client.Project(f.Owner, project)
}

func (f *CoprFarm) ProjectExists(ctx context.Context, project string) (bool, error) {
	return f.scope(project).Exists(ctx)
}

func (f *CoprFarm) CreateProject(ctx context.Context, project string, settings copr.ProjectSettings) error {
	return f.scope(project).Create(ctx, settings)
}

func (f *CoprFarm) DeleteProject(ctx context.Context, project string) error {
	return f.scope(project).Delete(ctx)
}

func (f *CoprFarm) ForkProject(ctx context.Context, from, to string) error {
	return f.scope(from).Fork(ctx, to)
}

func (f *CoprFarm) EditProject(ctx context.Context, project string, edit copr.ProjectEdit) error {
	return f.scope(project).Edit(ctx, edit)
}

func (f *CoprFarm) RegenerateRepos(ctx context.Context, project string) error {
	return f.scope(project).RegenerateRepos(ctx)
}

func (f *CoprFarm) Monitor(ctx context.Context, project string) ([]copr.BuildRecord, error) {
	return f.scope(project).Monitor(ctx)
}

func (f *CoprFarm) ActiveBuildIDs(ctx context.Context, project string) ([]int64, error) {
	return f.scope(project).ActiveBuildIDs(ctx)
}

func (f *CoprFarm) CancelBuild(ctx context.Context, buildID int64) error {
	return f.Client.CancelBuild(ctx, buildID)
}

func (f *CoprFarm) AddPackage(ctx context.Context, project, pkg string, source copr.PackageSource) error {
	return f.scope(project).AddPackage(ctx, pkg, source)
}

func (f *CoprFarm) StartBuild(ctx context.Context, project, pkg string, chroots []string, afterBuildID int64) (int64, error) {
	return f.scope(project).Build(ctx, pkg, chroots, afterBuildID)
}

func (f *CoprFarm) ListChroots(ctx context.Context) ([]string, error) {
	return f.Client.ListChroots(ctx)
}

func (f *CoprFarm) FetchLog(ctx context.Context, url string) (string, error) {
	return f.Client.FetchLog(ctx, url)
}
