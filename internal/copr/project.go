package copr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
)

// ProjectScope provides operations on a single owner/name project.
type ProjectScope struct {
	client *Client
	owner  string
	name   string
}

// Owner returns the project owner (user or @group).
func (p *ProjectScope) Owner() string { return p.owner }

// Name returns the project name.
func (p *ProjectScope) Name() string { return p.name }

// FullName returns "owner/name" for logging and messages.
func (p *ProjectScope) FullName() string { return p.owner + "/" + p.name }

// BuildURL returns the human-facing page for a build in this project.
func (p *ProjectScope) BuildURL(buildID int64) string {
	return fmt.Sprintf("%s/coprs/%s/%s/build/%d/", p.client.baseURL, p.owner, p.name, buildID)
}

func (p *ProjectScope) query() string {
	params := url.Values{}
	params.Set("ownername", p.owner)
	params.Set("projectname", p.name)
	return params.Encode()
}

func jsonBody(v any) (*bytes.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return bytes.NewReader(data), nil
}

// Exists reports whether the project is known to the farm.
func (p *ProjectScope) Exists(ctx context.Context) (bool, error) {
	u := fmt.Sprintf("%s/api_3/project?%s", p.client.baseURL, p.query())

	var proj projectResource
	err := p.client.doJSON(ctx, "GET", u, "get project", nil, &proj)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create registers the project with the given settings.
func (p *ProjectScope) Create(ctx context.Context, settings ProjectSettings) error {
	u := fmt.Sprintf("%s/api_3/project/add/%s", p.client.baseURL, p.owner)

	body, err := jsonBody(struct {
		Name string `json:"name"`
		ProjectSettings
	}{Name: p.name, ProjectSettings: settings})
	if err != nil {
		return err
	}
	return p.client.doJSON(ctx, "POST", u, "create project", body, nil)
}

// Delete removes the project and all its builds from the farm.
func (p *ProjectScope) Delete(ctx context.Context) error {
	u := fmt.Sprintf("%s/api_3/project/delete/%s/%s", p.client.baseURL, p.owner, p.name)

	body, err := jsonBody(map[string]bool{"verify": true})
	if err != nil {
		return err
	}
	return p.client.doJSON(ctx, "POST", u, "delete project", body, nil)
}

// Fork copies this project, builds included, to a new name under the
// same owner.
func (p *ProjectScope) Fork(ctx context.Context, toName string) error {
	u := fmt.Sprintf("%s/api_3/project/fork/%s/%s", p.client.baseURL, p.owner, p.name)

	body, err := jsonBody(map[string]any{
		"name":      toName,
		"ownername": p.owner,
		"confirm":   true,
	})
	if err != nil {
		return err
	}
	return p.client.doJSON(ctx, "POST", u, "fork project", body, nil)
}

// Edit applies a partial settings update to the project.
func (p *ProjectScope) Edit(ctx context.Context, edit ProjectEdit) error {
	u := fmt.Sprintf("%s/api_3/project/edit/%s/%s", p.client.baseURL, p.owner, p.name)

	body, err := jsonBody(edit)
	if err != nil {
		return err
	}
	return p.client.doJSON(ctx, "POST", u, "edit project", body, nil)
}

// RegenerateRepos asks the farm to rebuild the repo metadata so freshly
// forked builds become installable.
func (p *ProjectScope) RegenerateRepos(ctx context.Context) error {
	u := fmt.Sprintf("%s/api_3/project/regenerate-repos/%s/%s", p.client.baseURL, p.owner, p.name)
	return p.client.doJSON(ctx, "PUT", u, "regenerate repos", nil, nil)
}

// Monitor returns the build matrix of the project, one record per
// (package, chroot) cell, sorted by chroot then package.
func (p *ProjectScope) Monitor(ctx context.Context) ([]BuildRecord, error) {
	params := url.Values{}
	params.Set("ownername", p.owner)
	params.Set("projectname", p.name)
	params.Add("additional_fields[]", "url_build_log")
	params.Add("additional_fields[]", "url_build_srpm_log")
	u := fmt.Sprintf("%s/api_3/monitor?%s", p.client.baseURL, params.Encode())

	var mon monitorResponse
	if err := p.client.doJSON(ctx, "GET", u, "monitor project", nil, &mon); err != nil {
		return nil, err
	}

	var records []BuildRecord
	for _, pkg := range mon.Packages {
		for chroot, cell := range pkg.Chroots {
			rec := BuildRecord{
				BuildID:      cell.BuildID,
				Package:      pkg.Name,
				Chroot:       chroot,
				State:        State(cell.State),
				WebURL:       p.BuildURL(cell.BuildID),
				LogURL:       cell.URLBuildLog,
				SourceLogURL: cell.URLBuildSRPMLog,
			}
			if cell.EndedOn != nil {
				rec.EndedOn = cell.EndedOn.Time()
			}
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Chroot != records[j].Chroot {
			return records[i].Chroot < records[j].Chroot
		}
		return records[i].Package < records[j].Package
	})
	return records, nil
}

// ActiveBuildIDs returns the IDs of builds that have not reached a
// terminal state yet.
func (p *ProjectScope) ActiveBuildIDs(ctx context.Context) ([]int64, error) {
	u := fmt.Sprintf("%s/api_3/build/list?%s", p.client.baseURL, p.query())

	var list buildListResponse
	if err := p.client.doJSON(ctx, "GET", u, "list builds", nil, &list); err != nil {
		return nil, err
	}

	var ids []int64
	for _, b := range list.Items {
		if !State(b.State).Terminal() {
			ids = append(ids, b.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// AddPackage registers a package and its source definition in the project.
func (p *ProjectScope) AddPackage(ctx context.Context, pkg string, source PackageSource) error {
	u := fmt.Sprintf("%s/api_3/package/add/%s/%s", p.client.baseURL, p.owner, p.name)

	body, err := jsonBody(struct {
		PackageName string `json:"package_name"`
		PackageSource
	}{PackageName: pkg, PackageSource: source})
	if err != nil {
		return err
	}
	return p.client.doJSON(ctx, "POST", u, "add package", body, nil)
}

// Build kicks a build of a registered package in the given chroots.
// A non-zero afterBuildID makes the farm hold the build until that build
// finishes, which is how per-chroot package ordering is enforced.
func (p *ProjectScope) Build(ctx context.Context, pkg string, chroots []string, afterBuildID int64) (int64, error) {
	u := fmt.Sprintf("%s/api_3/build/create", p.client.baseURL)

	body, err := jsonBody(struct {
		OwnerName    string   `json:"ownername"`
		ProjectName  string   `json:"projectname"`
		PackageName  string   `json:"package_name"`
		Chroots      []string `json:"chroots"`
		AfterBuildID int64    `json:"after_build_id,omitempty"`
	}{
		OwnerName:    p.owner,
		ProjectName:  p.name,
		PackageName:  pkg,
		Chroots:      chroots,
		AfterBuildID: afterBuildID,
	})
	if err != nil {
		return 0, err
	}

	var build buildResource
	if err := p.client.doJSON(ctx, "POST", u, "create build", body, &build); err != nil {
		return 0, err
	}
	return build.ID, nil
}
