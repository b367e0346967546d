// Package config loads and validates the snapwatch configuration file.
package config

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// Config is the full configuration tree.
type Config struct {
	Copr       CoprConfig      `yaml:"copr" json:"copr"`
	GitHub     GitHubConfig    `yaml:"github" json:"github"`
	Cache      CacheConfig     `yaml:"cache" json:"cache"`
	Strategies []Strategy      `yaml:"strategies" json:"strategies"`
	Campaign   *CampaignConfig `yaml:"campaign" json:"campaign"`
	Watch      WatchConfig     `yaml:"watch" json:"watch"`
}

// CoprConfig locates the build farm.
type CoprConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	Owner   string `yaml:"owner" json:"owner"`
	// TokenFile holds the API token on disk; the token itself never
	// appears in the config file.
	TokenFile string `yaml:"token_file" json:"token_file"`
}

// GitHubConfig locates the issue tracker repository.
type GitHubConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Repo is the owner/name slug of the tracking repository.
	Repo      string `yaml:"repo" json:"repo"`
	TokenFile string `yaml:"token_file" json:"token_file"`
}

// SplitRepo returns the owner and name halves of the repo slug.
func (g GitHubConfig) SplitRepo() (owner, name string) {
	owner, name, _ = strings.Cut(g.Repo, "/")
	return owner, name
}

// CacheConfig configures the local log cache. An empty path disables it.
type CacheConfig struct {
	Path string `yaml:"path" json:"path"`
}

// Strategy describes one daily snapshot flavour.
type Strategy struct {
	Name string `yaml:"name" json:"name"`
	// ProjectPrefix names the daily projects: <prefix>-<YYYYMMDD>.
	ProjectPrefix string `yaml:"project_prefix" json:"project_prefix"`
	// TargetProject receives the fork of a healthy snapshot.
	TargetProject string `yaml:"target_project" json:"target_project"`
	// ChrootPattern filters the farm's chroot catalog.
	ChrootPattern string `yaml:"chroot_pattern" json:"chroot_pattern"`
	// DeleteAfterDays is the farm-side auto-cleanup for daily projects.
	DeleteAfterDays int         `yaml:"delete_after_days" json:"delete_after_days"`
	Description     string      `yaml:"description" json:"description"`
	Instructions    string      `yaml:"instructions" json:"instructions"`
	Packages        []Package   `yaml:"packages" json:"packages"`
	Unsupported     []Exclusion `yaml:"unsupported" json:"unsupported"`
}

// ProjectFor returns the daily project name for a YYYYMMDD day string.
func (s Strategy) ProjectFor(day string) string {
	return s.ProjectPrefix + "-" + day
}

// Package is one source package of a strategy. Committish may contain
// the literal `{day}`, replaced with the snapshot day at rotation time.
type Package struct {
	Name         string `yaml:"name" json:"name"`
	CloneURL     string `yaml:"clone_url" json:"clone_url"`
	Committish   string `yaml:"committish" json:"committish"`
	Spec         string `yaml:"spec" json:"spec"`
	Subdirectory string `yaml:"subdirectory" json:"subdirectory"`
	// After names an earlier package in the list whose build must
	// finish first within each chroot.
	After string `yaml:"after" json:"after"`
}

// Exclusion removes a package from the expected matrix on matching
// chroots. Globs use path.Match syntax.
type Exclusion struct {
	Package     string   `yaml:"package" json:"package"`
	ChrootGlobs []string `yaml:"chroots" json:"chroots"`
}

// CampaignConfig describes the mass-rebuild campaign to monitor.
type CampaignConfig struct {
	Project         string `yaml:"project" json:"project"`
	PreviousProject string `yaml:"previous_project" json:"previous_project"`
	Ref             string `yaml:"ref" json:"ref"`
	PreviousRef     string `yaml:"previous_ref" json:"previous_ref"`
	PrimaryArch     string `yaml:"primary_arch" json:"primary_arch"`
	WorkflowFile    string `yaml:"workflow_file" json:"workflow_file"`
	WorkflowRef     string `yaml:"workflow_ref" json:"workflow_ref"`
}

// WatchConfig holds the cron expressions for the watch daemon. Empty
// entries disable the cadence.
type WatchConfig struct {
	Check   string `yaml:"check" json:"check"`
	Rotate  string `yaml:"rotate" json:"rotate"`
	Promote string `yaml:"promote" json:"promote"`
	Rebuild string `yaml:"rebuild" json:"rebuild"`
}

const (
	defaultCoprBaseURL   = "https://copr.fedorainfracloud.org"
	defaultGitHubBaseURL = "https://api.github.com"
	defaultDeleteAfter   = 7
)

var slugRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func (c *Config) applyDefaults() {
	if c.Copr.BaseURL == "" {
		c.Copr.BaseURL = defaultCoprBaseURL
	}
	if c.GitHub.BaseURL == "" {
		c.GitHub.BaseURL = defaultGitHubBaseURL
	}
	for i := range c.Strategies {
		if c.Strategies[i].DeleteAfterDays == 0 {
			c.Strategies[i].DeleteAfterDays = defaultDeleteAfter
		}
	}
}

func (c *Config) validate() error {
	if c.Copr.Owner == "" {
		return fmt.Errorf("copr.owner is required")
	}
	if owner, name := c.GitHub.SplitRepo(); owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("github.repo %q is not an owner/name slug", c.GitHub.Repo)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}

	seen := make(map[string]bool)
	for _, s := range c.Strategies {
		if err := s.validate(); err != nil {
			return fmt.Errorf("strategy %s: %w", s.Name, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("strategy %s: duplicate name", s.Name)
		}
		seen[s.Name] = true
	}

	if c.Campaign != nil && c.Campaign.Project == "" {
		return fmt.Errorf("campaign.project is required when a campaign is configured")
	}

	for cadence, expr := range map[string]string{
		"watch.check":   c.Watch.Check,
		"watch.rotate":  c.Watch.Rotate,
		"watch.promote": c.Watch.Promote,
		"watch.rebuild": c.Watch.Rebuild,
	} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("%s: invalid cron expression %q: %w", cadence, expr, err)
		}
	}
	return nil
}

func (s Strategy) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !slugRE.MatchString(s.Name) {
		return fmt.Errorf("name %q is not a valid slug", s.Name)
	}
	if s.ProjectPrefix == "" {
		return fmt.Errorf("project_prefix is required")
	}
	if !slugRE.MatchString(s.ProjectPrefix) {
		return fmt.Errorf("project_prefix %q is not a valid project name", s.ProjectPrefix)
	}
	if s.TargetProject == "" {
		return fmt.Errorf("target_project is required")
	}
	if s.ChrootPattern == "" {
		return fmt.Errorf("chroot_pattern is required")
	}
	if _, err := regexp.Compile(s.ChrootPattern); err != nil {
		return fmt.Errorf("chroot_pattern: %w", err)
	}
	if len(s.Packages) == 0 {
		return fmt.Errorf("at least one package is required")
	}

	// After may only name an earlier package; list order is build
	// submission order, which also rules out cycles.
	earlier := make(map[string]bool, len(s.Packages))
	for _, pkg := range s.Packages {
		if pkg.Name == "" {
			return fmt.Errorf("package name is required")
		}
		if earlier[pkg.Name] {
			return fmt.Errorf("package %s: duplicate name", pkg.Name)
		}
		if pkg.After != "" && !earlier[pkg.After] {
			return fmt.Errorf("package %s: after %q does not name an earlier package", pkg.Name, pkg.After)
		}
		earlier[pkg.Name] = true
	}

	for _, excl := range s.Unsupported {
		if excl.Package == "" {
			return fmt.Errorf("unsupported entry without a package")
		}
		if len(excl.ChrootGlobs) == 0 {
			return fmt.Errorf("unsupported %s: at least one chroot glob is required", excl.Package)
		}
		for _, glob := range excl.ChrootGlobs {
			if _, err := path.Match(glob, "probe"); err != nil {
				return fmt.Errorf("unsupported %s: bad glob %q", excl.Package, glob)
			}
		}
	}
	return nil
}
