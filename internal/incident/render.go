package incident

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"snapwatch/internal/classify"
	"snapwatch/internal/matrix"
)

var (
	entryMarkerRE = regexp.MustCompile(`^<!--cause/\S+ package/\S+ chroot/\S+-->$`)
	firstSeenRE   = regexp.MustCompile(`^<!--first_seen/(\S+)-->$`)
	backtickRunRE = regexp.MustCompile("`+")
)

// splitBody cuts the issue body at the update marker. head contains
// everything up to and including the marker, verbatim; tail is the
// stale generated section. A body without the marker gets one appended.
func splitBody(body string) (head, tail string) {
	if idx := strings.Index(body, UpdateMarker); idx >= 0 {
		end := idx + len(UpdateMarker)
		return body[:end], body[end:]
	}
	head = strings.TrimRight(body, "\n")
	if head != "" {
		head += "\n\n"
	}
	return head + UpdateMarker, ""
}

// parseFirstSeen extracts the first-seen timestamps recorded next to
// each entry marker in a previously generated section.
func parseFirstSeen(tail string) map[string]time.Time {
	seen := map[string]time.Time{}
	var current string
	for _, line := range strings.Split(tail, "\n") {
		line = strings.TrimSpace(line)
		if entryMarkerRE.MatchString(line) {
			current = line
			continue
		}
		m := firstSeenRE.FindStringSubmatch(line)
		if m == nil || current == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, m[1]); err == nil {
			if _, dup := seen[current]; !dup {
				seen[current] = t
			}
		}
		current = ""
	}
	return seen
}

// sortEntries orders entries for rendering: unknown causes first (they
// need human eyes most), the remaining causes alphabetically, and
// (package, chroot) within a cause.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		aUnknown := a.Cause == classify.CauseUnknown
		bUnknown := b.Cause == classify.CauseUnknown
		if aUnknown != bUnknown {
			return aUnknown
		}
		if a.Cause != b.Cause {
			return a.Cause < b.Cause
		}
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		return a.Chroot < b.Chroot
	})
}

// renderSection renders the generated part of the issue body. Entries
// arrive sorted, so one <h3> heading per run of equal causes groups
// them, with each entry an <li> carrying its uniqueness marker.
func renderSection(entries []Entry) string {
	if len(entries) == 0 {
		return "No failing builds in the latest scan."
	}

	var b strings.Builder
	var last classify.Cause
	for i, e := range entries {
		if i == 0 || e.Cause != last {
			if i > 0 {
				b.WriteString("</ul>\n\n")
			}
			fmt.Fprintf(&b, "<h3>%s</h3>\n<ul>\n", e.Cause)
			last = e.Cause
		}
		b.WriteString(renderEntry(e))
	}
	b.WriteString("</ul>")
	return b.String()
}

func renderEntry(e Entry) string {
	stamp := e.FirstSeen.UTC()
	var b strings.Builder
	b.WriteString("<li>\n")
	b.WriteString(e.Key() + "\n")
	fmt.Fprintf(&b, "<!--first_seen/%s-->\n", stamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "<details>\n<summary><code>%s</code> on <code>%s</code> (first seen %s)</summary>\n\n",
		e.Package, e.Chroot, stamp.Format("2006-01-02 15:04 UTC"))
	if e.LogURL != "" {
		fmt.Fprintf(&b, "[build log](%s)\n\n", e.LogURL)
	}
	fence := fenceFor(e.Evidence)
	fmt.Fprintf(&b, "%s\n%s\n%s\n\n</details>\n</li>\n", fence, e.Evidence, fence)
	return b.String()
}

// fenceFor returns a code fence longer than any backtick run inside the
// evidence, so the excerpt can never break out of its block.
func fenceFor(evidence string) string {
	longest := 0
	for _, run := range backtickRunRE.FindAllString(evidence, -1) {
		if len(run) > longest {
			longest = len(run)
		}
	}
	n := longest + 1
	if n < 3 {
		n = 3
	}
	return strings.Repeat("`", n)
}

// managedLabel reports whether a label belongs to a family the
// reconciler owns. Labels outside these families (the management and
// strategy labels, human-added ones) are preserved as-is.
func managedLabel(name string) bool {
	for _, prefix := range []string{"error/", "arch/", "os/", "project/"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// recomputeLabels replaces the managed label families with the set
// derived from the current entries and keeps everything else.
func recomputeLabels(existing []string, entries []Entry) []string {
	keep := lo.Filter(existing, func(name string, _ int) bool { return !managedLabel(name) })

	var derived []string
	for _, e := range entries {
		chroot := matrix.Chroot(e.Chroot)
		derived = append(derived,
			"error/"+string(e.Cause),
			"arch/"+chroot.Arch(),
			"os/"+chroot.OS(),
			"project/"+e.Package,
		)
	}

	labels := lo.Uniq(append(keep, derived...))
	sort.Strings(labels)
	return labels
}

func labelColor(name string) string {
	switch {
	case name == LabelBroken:
		return "b60205"
	case strings.HasPrefix(name, "error/"):
		return "d73a4a"
	case strings.HasPrefix(name, "arch/"):
		return "0052cc"
	case strings.HasPrefix(name, "os/"):
		return "0e8a16"
	case strings.HasPrefix(name, "project/"):
		return "5319e7"
	case strings.HasPrefix(name, "strategy/"):
		return "fbca04"
	}
	return "ededed"
}
