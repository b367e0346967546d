package rebuild

import (
	"context"
	"fmt"
	"strings"

	"snapwatch/internal/github"
)

// ReportLabel marks campaign report issues. The newest issue carrying
// it is what Check compares the snapshot time against.
const ReportLabel = "mass-rebuild"

const reportLabelColor = "c5def5"

// Publish files the campaign report issue and dispatches a bisection
// workflow for every regression that fails on the primary architecture.
func (m *Monitor) Publish(ctx context.Context, report Report) error {
	label := github.Label{
		Name:        ReportLabel,
		Color:       reportLabelColor,
		Description: "Mass rebuild campaign report",
	}
	if err := m.tracker.EnsureLabel(ctx, label); err != nil {
		return fmt.Errorf("ensuring label %s: %w", ReportLabel, err)
	}

	title := fmt.Sprintf("Mass rebuild report for %s (%s)",
		m.campaign.Project, report.SnapshotTime.UTC().Format("2006-01-02"))
	issue, err := m.tracker.CreateIssue(ctx, github.NewIssue{
		Title:  title,
		Body:   renderReport(m.campaign, report),
		Labels: []string{ReportLabel},
	})
	if err != nil {
		return fmt.Errorf("creating campaign report: %w", err)
	}
	m.logger.InfoContext(ctx, "Filed campaign report",
		"issue", issue.Number,
		"url", issue.HTMLURL,
		"regressions", len(report.Regressions),
	)

	if m.campaign.WorkflowFile == "" {
		return nil
	}
	for _, reg := range report.Regressions {
		if !failsOnArch(reg, m.campaign.PrimaryArch) {
			continue
		}
		inputs := map[string]string{
			"package":  reg.Package,
			"good_ref": m.campaign.PreviousRef,
			"bad_ref":  m.campaign.Ref,
		}
		if err := m.tracker.DispatchWorkflow(ctx, m.campaign.WorkflowFile, m.campaign.WorkflowRef, inputs); err != nil {
			return fmt.Errorf("dispatching bisection for %s: %w", reg.Package, err)
		}
		m.logger.InfoContext(ctx, "Dispatched bisection",
			"package", reg.Package,
			"good_ref", m.campaign.PreviousRef,
			"bad_ref", m.campaign.Ref,
		)
	}
	return nil
}

func renderReport(campaign Campaign, report Report) string {
	parts := []string{
		fmt.Sprintf("The mass rebuild in `%s` finished its latest snapshot on %s.",
			campaign.Project, report.SnapshotTime.UTC().Format("2006-01-02 15:04 MST")),
		"",
	}
	if campaign.PreviousProject != "" {
		parts = append(parts,
			fmt.Sprintf("Compared against `%s`:", campaign.PreviousProject),
			"")
	}

	if len(report.Regressions) == 0 {
		parts = append(parts, "No new regressions.")
	}
	for _, reg := range report.Regressions {
		chroots := make([]string, len(reg.Chroots))
		for i, chroot := range reg.Chroots {
			chroots[i] = "`" + chroot + "`"
		}
		line := fmt.Sprintf("- **%s** on %s", reg.Package, strings.Join(chroots, ", "))
		if reg.URL != "" {
			line += fmt.Sprintf(" ([build](%s))", reg.URL)
		}
		parts = append(parts, line)
	}

	if campaign.Ref != "" && campaign.PreviousRef != "" {
		parts = append(parts,
			"",
			fmt.Sprintf("Suspect range: `%s..%s`.", campaign.PreviousRef, campaign.Ref))
	}
	return strings.Join(parts, "\n")
}
