package main

import (
	"fmt"
	"log/slog"
	"os"

	"snapwatch/internal/config"
	"snapwatch/internal/copr"
	"snapwatch/internal/github"
	"snapwatch/internal/incident"
	"snapwatch/internal/lifecycle"
	"snapwatch/internal/logcache"
	"snapwatch/internal/logging"
	"snapwatch/internal/rebuild"
	"snapwatch/internal/runner"
)

// buildRunner wires a Runner from the config file and the persistent
// flags. Tokens come from SNAPWATCH_COPR_TOKEN / SNAPWATCH_GITHUB_TOKEN
// or from the token files named in the config.
func buildRunner() (*runner.Runner, *config.Config, error) {
	level, err := logging.ParseLevel(rootFlags.logLevel)
	if err != nil {
		return nil, nil, err
	}
	logging.Init(level, rootFlags.logFormat)

	cfg, err := config.Load(rootFlags.config)
	if err != nil {
		return nil, nil, err
	}

	coprToken, err := resolveToken("SNAPWATCH_COPR_TOKEN", cfg.Copr.TokenFile, copr.ReadToken)
	if err != nil {
		return nil, nil, fmt.Errorf("copr token: %w", err)
	}
	farmClient, err := copr.New(cfg.Copr.BaseURL, coprToken, copr.WithLogger(logging.New("copr")))
	if err != nil {
		return nil, nil, err
	}

	githubToken, err := resolveToken("SNAPWATCH_GITHUB_TOKEN", cfg.GitHub.TokenFile, github.ReadToken)
	if err != nil {
		return nil, nil, fmt.Errorf("github token: %w", err)
	}
	tracker, err := github.New(cfg.GitHub.BaseURL, githubToken, github.WithLogger(logging.New("github")))
	if err != nil {
		return nil, nil, err
	}

	farm := &lifecycle.CoprFarm{Client: farmClient, Owner: cfg.Copr.Owner}
	owner, repo := cfg.GitHub.SplitRepo()
	incidents := incident.NewReconciler(tracker, owner, repo, incident.WithLogger(logging.New("incident")))

	opts := []runner.Option{runner.WithLogger(logging.New("runner"))}
	if cfg.Cache.Path != "" {
		cache, err := logcache.Open(cfg.Cache.Path)
		if err != nil {
			slog.Warn("Log cache unavailable, fetching logs directly", "path", cfg.Cache.Path, "error", err)
		} else {
			opts = append(opts, runner.WithCache(cache))
		}
	}
	if cfg.Campaign != nil {
		trackerRepo := &rebuild.TrackerRepo{Client: tracker, Owner: owner, Repo: repo}
		monitor := rebuild.New(farm, trackerRepo, rebuild.Campaign{
			Project:         cfg.Campaign.Project,
			PreviousProject: cfg.Campaign.PreviousProject,
			Ref:             cfg.Campaign.Ref,
			PreviousRef:     cfg.Campaign.PreviousRef,
			PrimaryArch:     cfg.Campaign.PrimaryArch,
			WorkflowFile:    cfg.Campaign.WorkflowFile,
			WorkflowRef:     cfg.Campaign.WorkflowRef,
		}, rebuild.WithLogger(logging.New("rebuild")))
		opts = append(opts, runner.WithCampaignMonitor(monitor))
	}

	return runner.New(cfg, farm, incidents, opts...), cfg, nil
}

// resolveToken prefers the environment variable over the token file. A
// token file readable by group or others gets a warning, not an error.
func resolveToken(envVar, path string, read func(string) (string, error)) (string, error) {
	if t := os.Getenv(envVar); t != "" {
		return t, nil
	}
	if path == "" {
		return "", nil
	}
	if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o044 != 0 {
		slog.Warn("Token file is readable by other users", "path", path, "mode", info.Mode().Perm().String())
	}
	return read(path)
}
