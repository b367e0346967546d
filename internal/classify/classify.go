// Package classify turns raw build logs into failure causes with a
// bounded evidence excerpt suitable for posting on a tracking issue.
package classify

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	failedTestsRE      = regexp.MustCompile(`^\s*Failed Tests \(\d+\):`)
	testFailedBannerRE = regexp.MustCompile(`^\*{4,} TEST '.*' FAILED \*{4,}`)
	bannerOnlyRE       = regexp.MustCompile(`^\*{4,}$`)
)

// Cause is the failure taxonomy. The zero-information member is
// CauseUnknown; classification is total and never fails.
type Cause string

const (
	CauseCoprTimeout Cause = "copr_timeout"
	CauseNetwork     Cause = "network_issue"
	CauseDependency  Cause = "dependency_issue"
	CauseTest        Cause = "test"
	CauseSRPMBuild   Cause = "srpm_build_issue"
	CauseUnknown     Cause = "unknown"
)

// Causes returns every member of the taxonomy.
func Causes() []Cause {
	return []Cause{
		CauseCoprTimeout,
		CauseNetwork,
		CauseDependency,
		CauseTest,
		CauseSRPMBuild,
		CauseUnknown,
	}
}

// Match is the outcome of classifying one log.
type Match struct {
	Cause    Cause
	Evidence string
}

// maxEvidenceBytes caps the evidence excerpt; whole failing test suites
// would otherwise blow up tracker issue bodies.
const maxEvidenceBytes = 16 << 10

const emptyLogEvidence = "(no log output)"

// rule is one ordered classification rule. detect returns the evidence
// excerpt when the rule matches.
type rule struct {
	cause  Cause
	detect func(lines []string) (string, bool)
}

// rules returns the classification rules in priority order. The first
// matching rule wins; CauseUnknown is the fallback handled by Classify.
func rules() []rule {
	return []rule{
		{
			// The farm's watchdog kills builds that exceed their time
			// budget and stamps the log with a timeout marker.
			cause: CauseCoprTimeout,
			detect: func(lines []string) (string, bool) {
				return matchWindow(lines, func(l string) bool {
					return strings.Contains(strings.ToLower(l), "copr timeout")
				}, 3, 3)
			},
		},
		{
			// dnf metadata download failures poison the whole chroot
			// before compilation even starts.
			cause: CauseNetwork,
			detect: func(lines []string) (string, bool) {
				return matchWindow(lines, func(l string) bool {
					return strings.Contains(l, "Errors during downloading metadata for repository")
				}, 3, 3)
			},
		},
		{
			cause: CauseDependency,
			detect: func(lines []string) (string, bool) {
				phrases := []string{
					"No matching package to install",
					"nothing provides",
					"Failed to resolve the transaction",
					"Dependencies could not be resolved",
					"No match for argument",
				}
				return matchWindow(lines, func(l string) bool {
					for _, p := range phrases {
						if strings.Contains(l, p) {
							return true
						}
					}
					return false
				}, 3, 3)
			},
		},
		{
			cause:  CauseTest,
			detect: testSuiteEvidence,
		},
	}
}

// Classify determines the failure cause of a build log. It always
// returns a Match; logs no rule recognizes classify as CauseUnknown
// with a generic tail-and-errors excerpt.
func Classify(log string) Match {
	lines := splitLines(log)
	if len(lines) == 0 {
		return Match{Cause: CauseUnknown, Evidence: emptyLogEvidence}
	}
	for _, r := range rules() {
		if ev, ok := r.detect(lines); ok {
			return Match{Cause: r.cause, Evidence: capEvidence(ev)}
		}
	}
	return Match{Cause: CauseUnknown, Evidence: capEvidence(unknownEvidence(lines))}
}

// ClassifySRPM classifies the SRPM-stage log of a build whose chroot
// stage never produced a log. The cause is fixed; only the evidence is
// extracted, by scanning for "error:" occurrences.
func ClassifySRPM(log string) Match {
	lines := splitLines(log)
	if len(lines) == 0 {
		return Match{Cause: CauseSRPMBuild, Evidence: emptyLogEvidence}
	}
	ev := errorLines(lines)
	if ev == "" {
		ev = lastLines(lines, 10)
	}
	return Match{Cause: CauseSRPMBuild, Evidence: capEvidence(ev)}
}

// --- evidence extraction ---

func splitLines(log string) []string {
	if log == "" {
		return nil
	}
	lines := strings.Split(log, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// matchWindow finds the first line satisfying pred and returns it with
// before/after lines of context.
func matchWindow(lines []string, pred func(string) bool, before, after int) (string, bool) {
	for i, l := range lines {
		if pred(l) {
			return window(lines, i, before, after), true
		}
	}
	return "", false
}

// window returns lines[i-before .. i+after], clamped to the log bounds.
func window(lines []string, i, before, after int) string {
	lo := i - before
	if lo < 0 {
		lo = 0
	}
	hi := i + after + 1
	if hi > len(lines) {
		hi = len(lines)
	}
	return strings.Join(lines[lo:hi], "\n")
}

func lastLines(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// testSuiteEvidence extracts the lit summary block ("Failed Tests (N):"
// through "Total Discovered Tests:") with 10 lines of context on each
// side, followed by every per-test FAILED dump region.
func testSuiteEvidence(lines []string) (string, bool) {
	start := -1
	for i, l := range lines {
		if failedTestsRE.MatchString(l) {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}

	end := start
	for i := start; i < len(lines); i++ {
		if strings.Contains(lines[i], "Total Discovered Tests:") {
			end = i
			break
		}
	}
	if end == start {
		// Summary block never closed; take a fixed-size slice.
		end = start + 30
		if end >= len(lines) {
			end = len(lines) - 1
		}
	}

	lo := start - 10
	if lo < 0 {
		lo = 0
	}
	hi := end + 10 + 1
	if hi > len(lines) {
		hi = len(lines)
	}

	parts := []string{strings.Join(lines[lo:hi], "\n")}
	parts = append(parts, failedDumpRegions(lines)...)
	return strings.Join(parts, "\n\n"), true
}

const maxDumpRegions = 10

// failedDumpRegions collects the banner-delimited per-test dumps lit
// prints for each failing test:
//
//	******************** TEST 'LLVM :: foo.ll' FAILED ********************
//	...
//	********************
func failedDumpRegions(lines []string) []string {
	var regions []string
	for i := 0; i < len(lines) && len(regions) < maxDumpRegions; i++ {
		if !testFailedBannerRE.MatchString(lines[i]) {
			continue
		}
		j := i + 1
		for j < len(lines) && !bannerOnlyRE.MatchString(lines[j]) {
			j++
		}
		if j < len(lines) {
			j++ // include the closing banner
		}
		regions = append(regions, strings.Join(lines[i:j], "\n"))
		i = j - 1
	}
	return regions
}

// unknownEvidence is the fallback excerpt: the log tail, the rpmbuild
// error section when present, and every "error:" line with one leading
// context line.
func unknownEvidence(lines []string) string {
	parts := []string{lastLines(lines, 10)}
	if section := rpmErrorSection(lines); section != "" {
		parts = append(parts, section)
	}
	if errs := errorLines(lines); errs != "" {
		parts = append(parts, errs)
	}
	return strings.Join(parts, "\n\n")
}

// rpmErrorSection returns the "RPM build errors:" marker line plus the
// indented block that follows it.
func rpmErrorSection(lines []string) string {
	const maxSectionLines = 50
	for i, l := range lines {
		if !strings.HasPrefix(l, "RPM build errors") {
			continue
		}
		j := i + 1
		for j < len(lines) && j-i < maxSectionLines {
			next := lines[j]
			if next == "" || (!strings.HasPrefix(next, " ") && !strings.HasPrefix(next, "\t")) {
				break
			}
			j++
		}
		return strings.Join(lines[i:j], "\n")
	}
	return ""
}

const maxErrorMatches = 40

// errorLines collects case-insensitive "error:" lines, each with one
// leading context line.
func errorLines(lines []string) string {
	var chunks []string
	matched := 0
	for i, l := range lines {
		if !strings.Contains(strings.ToLower(l), "error:") {
			continue
		}
		matched++
		if matched > maxErrorMatches {
			chunks = append(chunks, fmt.Sprintf("[... %d more error lines omitted ...]", countErrorLines(lines[i:])))
			break
		}
		chunks = append(chunks, window(lines, i, 1, 0))
	}
	return strings.Join(chunks, "\n")
}

func countErrorLines(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(strings.ToLower(l), "error:") {
			n++
		}
	}
	return n
}

func capEvidence(ev string) string {
	if len(ev) <= maxEvidenceBytes {
		return ev
	}
	cut := ev[:maxEvidenceBytes]
	if i := strings.LastIndex(cut, "\n"); i > 0 {
		cut = cut[:i]
	}
	return cut + "\n[... evidence truncated ...]"
}
