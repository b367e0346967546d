package incident

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"snapwatch/internal/classify"
	"snapwatch/internal/github"
)

// trackerState is a minimal in-memory tracker behind httptest: one
// issue, label registry, recorded bodies.
type trackerState struct {
	mu       sync.Mutex
	issue    github.Issue
	labels   map[string]bool
	bodies   []string
	comments []string
	creates  int
}

func newTrackerServer(t *testing.T, st *trackerState) *httptest.Server {
	t.Helper()
	if st.labels == nil {
		st.labels = map[string]bool{}
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		defer st.mu.Unlock()
		switch {
		case r.URL.Path == "/search/issues":
			if st.issue.Number == 0 {
				json.NewEncoder(w).Encode(github.SearchResult{})
				return
			}
			json.NewEncoder(w).Encode(github.SearchResult{TotalCount: 1, Items: []github.Issue{st.issue}})
		case r.Method == "POST" && r.URL.Path == "/repos/o/r/issues":
			var in github.NewIssue
			json.NewDecoder(r.Body).Decode(&in)
			st.creates++
			st.issue = github.Issue{Number: 5, Title: in.Title, Body: in.Body, State: "open"}
			for _, name := range in.Labels {
				st.issue.Labels = append(st.issue.Labels, github.Label{Name: name})
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(st.issue)
		case r.Method == "PATCH" && strings.HasPrefix(r.URL.Path, "/repos/o/r/issues/"):
			var edit map[string]any
			json.NewDecoder(r.Body).Decode(&edit)
			if body, ok := edit["body"].(string); ok {
				st.issue.Body = body
				st.bodies = append(st.bodies, body)
			}
			if names, ok := edit["labels"].([]any); ok {
				st.issue.Labels = nil
				for _, n := range names {
					st.issue.Labels = append(st.issue.Labels, github.Label{Name: n.(string)})
				}
			}
			if state, ok := edit["state"].(string); ok {
				st.issue.State = state
			}
			json.NewEncoder(w).Encode(st.issue)
		case r.Method == "GET" && strings.HasPrefix(r.URL.Path, "/repos/o/r/labels/"):
			name := strings.TrimPrefix(r.URL.Path, "/repos/o/r/labels/")
			if st.labels[name] {
				json.NewEncoder(w).Encode(github.Label{Name: name})
				return
			}
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"message": "Not Found"})
		case r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/comments"):
			var in map[string]string
			json.NewDecoder(r.Body).Decode(&in)
			st.comments = append(st.comments, in["body"])
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(github.Comment{ID: int64(len(st.comments)), Body: in["body"]})
		case r.Method == "POST" && r.URL.Path == "/repos/o/r/labels":
			var l github.Label
			json.NewDecoder(r.Body).Decode(&l)
			st.labels[l.Name] = true
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(l)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestReconciler(t *testing.T, serverURL string, now time.Time) *Reconciler {
	t.Helper()
	client, err := github.New(serverURL, "test-token")
	if err != nil {
		t.Fatal(err)
	}
	return NewReconciler(client, "o", "r", WithClock(func() time.Time { return now }))
}

func TestFindOrCreate_CreatesWhenAbsent(t *testing.T) {
	st := &trackerState{}
	server := newTrackerServer(t, st)
	defer server.Close()

	r := newTestReconciler(t, server.URL, time.Now())
	issue, err := r.FindOrCreate(context.Background(), "big-merge", "20260822")
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if st.creates != 1 {
		t.Fatalf("creates = %d, want 1", st.creates)
	}
	if issue.Title != "Broken snapshot for big-merge on 20260822" {
		t.Errorf("unexpected title: %s", issue.Title)
	}
	if !strings.HasSuffix(issue.Body, UpdateMarker) {
		t.Errorf("body must end with the update marker:\n%s", issue.Body)
	}
	wantLabels := []string{LabelBroken, "strategy/big-merge"}
	if diff := cmp.Diff(wantLabels, issue.LabelNames()); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if !st.labels[LabelBroken] || !st.labels["strategy/big-merge"] {
		t.Error("base labels were not ensured tracker-side")
	}
}

func TestFindOrCreate_ReusesExisting(t *testing.T) {
	st := &trackerState{issue: github.Issue{Number: 9, Title: "Broken snapshot for pgo on 20260820", State: "open"}}
	server := newTrackerServer(t, st)
	defer server.Close()

	r := newTestReconciler(t, server.URL, time.Now())
	issue, err := r.FindOrCreate(context.Background(), "pgo", "20260820")
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if st.creates != 0 {
		t.Errorf("creates = %d, want 0", st.creates)
	}
	if issue.Number != 9 {
		t.Errorf("number = %d, want 9", issue.Number)
	}
}

func TestFindOrCreate_MultipleMatchesPicksFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(github.SearchResult{
			TotalCount: 2,
			Items: []github.Issue{
				{Number: 12, Title: "Broken snapshot for pgo on 20260820"},
				{Number: 4, Title: "Broken snapshot for pgo on 20260820"},
			},
		})
	}))
	defer server.Close()

	r := newTestReconciler(t, server.URL, time.Now())
	issue, err := r.FindOrCreate(context.Background(), "pgo", "20260820")
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if issue.Number != 12 {
		t.Errorf("number = %d, want the first (newest) hit 12", issue.Number)
	}
}

func testEntries() []Entry {
	return []Entry{
		{
			Cause:    classify.CauseDependency,
			Package:  "llvm",
			Chroot:   "fedora-41-x86_64",
			Evidence: "nothing provides python3-recommonmark",
			LogURL:   "https://backend/llvm/builder-live.log.gz",
		},
		{
			Cause:    classify.CauseUnknown,
			Package:  "clang",
			Chroot:   "fedora-rawhide-s390x",
			Evidence: "ninja: build stopped",
			LogURL:   "https://backend/clang/builder-live.log.gz",
		},
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	st := &trackerState{}
	server := newTrackerServer(t, st)
	defer server.Close()

	t0 := time.Date(2026, 8, 22, 3, 14, 22, 0, time.UTC)
	r1 := newTestReconciler(t, server.URL, t0)

	issue, err := r1.FindOrCreate(context.Background(), "big-merge", "20260822")
	if err != nil {
		t.Fatal(err)
	}
	if err := r1.Reconcile(context.Background(), issue, testEntries()); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	// Second run: later clock, same scan results. The body must not move.
	r2 := newTestReconciler(t, server.URL, t0.Add(15*time.Minute))
	issue2, err := r2.FindOrCreate(context.Background(), "big-merge", "20260822")
	if err != nil {
		t.Fatal(err)
	}
	if err := r2.Reconcile(context.Background(), issue2, testEntries()); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	if len(st.bodies) != 2 {
		t.Fatalf("expected 2 body updates, got %d", len(st.bodies))
	}
	if st.bodies[0] != st.bodies[1] {
		t.Errorf("reconcile is not idempotent:\n--- first ---\n%s\n--- second ---\n%s", st.bodies[0], st.bodies[1])
	}
	if !strings.Contains(st.bodies[1], "first_seen/2026-08-22T03:14:22Z") {
		t.Errorf("second body lost the original first-seen stamp:\n%s", st.bodies[1])
	}
}

func TestReconcile_PreservesPreambleAndDropsStaleSection(t *testing.T) {
	preamble := "Maintainer notes: ping @someone before closing.\n\nMore notes.\n\n" + UpdateMarker
	st := &trackerState{issue: github.Issue{
		Number: 5,
		State:  "open",
		Body:   preamble + "\n\n<h3>test</h3>\n<ul>\n<li>\nstale generated junk\n</li>\n</ul>\n",
	}}
	server := newTrackerServer(t, st)
	defer server.Close()

	r := newTestReconciler(t, server.URL, time.Now())
	issue, _ := r.FindOrCreate(context.Background(), "big-merge", "20260822")
	if err := r.Reconcile(context.Background(), issue, testEntries()); err != nil {
		t.Fatal(err)
	}

	body := st.issue.Body
	if !strings.HasPrefix(body, preamble) {
		t.Errorf("preamble was not preserved byte for byte:\n%s", body)
	}
	if strings.Contains(body, "stale generated junk") {
		t.Errorf("stale generated content survived the rewrite:\n%s", body)
	}
}

func TestReconcile_EntryKeyNeverDuplicated(t *testing.T) {
	st := &trackerState{}
	server := newTrackerServer(t, st)
	defer server.Close()

	t0 := time.Date(2026, 8, 22, 3, 0, 0, 0, time.UTC)
	r1 := newTestReconciler(t, server.URL, t0)
	issue, _ := r1.FindOrCreate(context.Background(), "big-merge", "20260822")

	first := testEntries()[:1]
	if err := r1.Reconcile(context.Background(), issue, first); err != nil {
		t.Fatal(err)
	}

	// Overlapping second scan, plus an in-input duplicate.
	overlap := append(testEntries(), testEntries()[0])
	r2 := newTestReconciler(t, server.URL, t0.Add(time.Hour))
	issue2, _ := r2.FindOrCreate(context.Background(), "big-merge", "20260822")
	if err := r2.Reconcile(context.Background(), issue2, overlap); err != nil {
		t.Fatal(err)
	}

	body := st.issue.Body
	for _, e := range testEntries() {
		if got := strings.Count(body, e.Key()); got != 1 {
			t.Errorf("marker %s appears %d times, want 1:\n%s", e.Key(), got, body)
		}
	}
	// The recurring entry keeps its original stamp, the new one gets the
	// second scan's.
	if !strings.Contains(body, "first_seen/2026-08-22T03:00:00Z") {
		t.Errorf("recurring entry lost its first-seen stamp:\n%s", body)
	}
	if !strings.Contains(body, "first_seen/2026-08-22T04:00:00Z") {
		t.Errorf("new entry missing the second scan's stamp:\n%s", body)
	}
}

func TestReconcile_OrderingUnknownFirst(t *testing.T) {
	st := &trackerState{}
	server := newTrackerServer(t, st)
	defer server.Close()

	r := newTestReconciler(t, server.URL, time.Now())
	issue, _ := r.FindOrCreate(context.Background(), "big-merge", "20260822")

	entries := []Entry{
		{Cause: classify.CauseTest, Package: "llvm", Chroot: "fedora-41-x86_64", Evidence: "e"},
		{Cause: classify.CauseCoprTimeout, Package: "llvm", Chroot: "fedora-40-x86_64", Evidence: "e"},
		{Cause: classify.CauseUnknown, Package: "zig", Chroot: "fedora-41-x86_64", Evidence: "e"},
		{Cause: classify.CauseCoprTimeout, Package: "clang", Chroot: "fedora-41-x86_64", Evidence: "e"},
	}
	if err := r.Reconcile(context.Background(), issue, entries); err != nil {
		t.Fatal(err)
	}

	body := st.issue.Body
	iUnknown := strings.Index(body, "<h3>unknown</h3>")
	iTimeout := strings.Index(body, "<h3>copr_timeout</h3>")
	iTest := strings.Index(body, "<h3>test</h3>")
	if iUnknown < 0 || iTimeout < 0 || iTest < 0 {
		t.Fatalf("missing cause sections:\n%s", body)
	}
	if !(iUnknown < iTimeout && iTimeout < iTest) {
		t.Errorf("section order wrong (unknown=%d, copr_timeout=%d, test=%d)", iUnknown, iTimeout, iTest)
	}
	// Within copr_timeout, clang sorts before llvm.
	iClang := strings.Index(body, "cause/copr_timeout package/clang")
	iLLVM := strings.Index(body, "cause/copr_timeout package/llvm")
	if !(iTimeout < iClang && iClang < iLLVM) {
		t.Errorf("entries within a cause are not sorted by package (clang=%d, llvm=%d)", iClang, iLLVM)
	}
}

func TestReconcile_RendersEntriesAsListItems(t *testing.T) {
	st := &trackerState{}
	server := newTrackerServer(t, st)
	defer server.Close()

	r := newTestReconciler(t, server.URL, time.Now())
	issue, _ := r.FindOrCreate(context.Background(), "big-merge", "20260822")

	entries := []Entry{{
		Cause:    classify.CauseNetwork,
		Package:  "llvm",
		Chroot:   "fedora-39-x86_64",
		Evidence: "Failed to download packages",
	}}
	if err := r.Reconcile(context.Background(), issue, entries); err != nil {
		t.Fatal(err)
	}

	body := st.issue.Body
	if !strings.Contains(body, "<h3>network_issue</h3>") {
		t.Errorf("missing cause heading:\n%s", body)
	}
	if got := strings.Count(body, "<li>"); got != 1 {
		t.Fatalf("body has %d list items, want 1:\n%s", got, body)
	}
	item := body[strings.Index(body, "<li>"):strings.Index(body, "</li>")]
	if !strings.Contains(item, "<!--cause/network_issue package/llvm chroot/fedora-39-x86_64-->") {
		t.Errorf("list item does not carry the uniqueness marker:\n%s", item)
	}
}

func TestReconcile_LabelRecompute(t *testing.T) {
	st := &trackerState{issue: github.Issue{
		Number: 5,
		State:  "open",
		Body:   UpdateMarker,
		Labels: []github.Label{
			{Name: LabelBroken},
			{Name: "strategy/big-merge"},
			{Name: "arch/i386"},       // stale, must go
			{Name: "needs-attention"}, // human label, must stay
		},
	}}
	server := newTrackerServer(t, st)
	defer server.Close()

	r := newTestReconciler(t, server.URL, time.Now())
	issue, _ := r.FindOrCreate(context.Background(), "big-merge", "20260822")

	entries := []Entry{{
		Cause:    classify.CauseNetwork,
		Package:  "llvm",
		Chroot:   "fedora-39-x86_64",
		Evidence: "Errors during downloading metadata for repository 'fedora'",
	}}
	if err := r.Reconcile(context.Background(), issue, entries); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"arch/x86_64",
		LabelBroken,
		"error/network_issue",
		"needs-attention",
		"os/fedora-39",
		"project/llvm",
		"strategy/big-merge",
	}
	if diff := cmp.Diff(want, st.issue.LabelNames()); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	for _, name := range []string{"error/network_issue", "arch/x86_64", "os/fedora-39", "project/llvm"} {
		if !st.labels[name] {
			t.Errorf("label %s was not ensured tracker-side", name)
		}
	}
}

func TestReconcile_ReopensClosedIssue(t *testing.T) {
	st := &trackerState{issue: github.Issue{Number: 5, State: "closed", Body: UpdateMarker}}
	server := newTrackerServer(t, st)
	defer server.Close()

	r := newTestReconciler(t, server.URL, time.Now())
	issue, _ := r.FindOrCreate(context.Background(), "big-merge", "20260822")
	if err := r.Reconcile(context.Background(), issue, testEntries()); err != nil {
		t.Fatal(err)
	}
	if st.issue.State != "open" {
		t.Errorf("state = %s, want open", st.issue.State)
	}
	if len(st.comments) != 1 || !strings.Contains(st.comments[0], "broken again") {
		t.Errorf("comments = %q, want one reopen notice", st.comments)
	}

	// A second reconcile of the now-open issue must not comment again.
	issue, _ = r.FindOrCreate(context.Background(), "big-merge", "20260822")
	if err := r.Reconcile(context.Background(), issue, testEntries()); err != nil {
		t.Fatal(err)
	}
	if len(st.comments) != 1 {
		t.Errorf("comments after second reconcile = %d, want 1", len(st.comments))
	}
}

func TestSplitBody_NoMarker(t *testing.T) {
	head, tail := splitBody("just some text\n")
	if head != "just some text\n\n"+UpdateMarker {
		t.Errorf("head = %q", head)
	}
	if tail != "" {
		t.Errorf("tail = %q, want empty", tail)
	}

	head, tail = splitBody("")
	if head != UpdateMarker || tail != "" {
		t.Errorf("empty body: head = %q, tail = %q", head, tail)
	}
}

func TestFenceFor(t *testing.T) {
	tests := []struct {
		evidence string
		want     string
	}{
		{"plain text", "```"},
		{"has ``` fence inside", "````"},
		{"has ````` long run", "``````"},
	}
	for _, tt := range tests {
		if got := fenceFor(tt.evidence); got != tt.want {
			t.Errorf("fenceFor(%q) = %q, want %q", tt.evidence, got, tt.want)
		}
	}
}

func TestRenderEntry_FenceSafeEvidence(t *testing.T) {
	e := Entry{
		Cause:     classify.CauseUnknown,
		Package:   "llvm",
		Chroot:    "fedora-41-x86_64",
		Evidence:  "output had\n```\na fenced block\n```\nin it",
		FirstSeen: time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC),
	}
	out := renderEntry(e)
	if !strings.Contains(out, "````\noutput had") {
		t.Errorf("evidence fence is not longer than the embedded one:\n%s", out)
	}
}
