package copr

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle state of a build chroot as reported by the farm.
type State string

const (
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateRunning   State = "running"
	StatePending   State = "pending"
	StateImporting State = "importing"
	StateStarting  State = "starting"
	StateCanceled  State = "canceled"
)

// Terminal reports whether the state is final. States the farm invents
// later are treated as in flight.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled:
		return true
	}
	return false
}

// Failed reports whether the build ended without producing packages.
func (s State) Failed() bool {
	return s == StateFailed || s == StateCanceled
}

// EpochSeconds represents a point in time serialized as integer Unix
// seconds. The farm reports fractional seconds on some endpoints, so
// deserialization tolerates floats. A JSON null decodes to the zero time.
type EpochSeconds time.Time

// Time returns the underlying time.Time value.
func (e EpochSeconds) Time() time.Time { return time.Time(e) }

// MarshalJSON serializes EpochSeconds as Unix seconds.
func (e EpochSeconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(e).Unix())
}

// UnmarshalJSON deserializes an integer or float Unix timestamp.
func (e *EpochSeconds) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = EpochSeconds(time.Time{})
		return nil
	}
	var value float64
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("unmarshal epoch seconds: %w", err)
	}
	*e = EpochSeconds(time.Unix(int64(value), 0).UTC())
	return nil
}

// BuildRecord is one (package, chroot) cell of a project's build matrix.
type BuildRecord struct {
	BuildID      int64
	Package      string
	Chroot       string
	State        State
	WebURL       string
	LogURL       string
	SourceLogURL string
	EndedOn      time.Time
}

// ProjectSettings carries the farm-side configuration for creating a project.
type ProjectSettings struct {
	Description        string   `json:"description,omitempty"`
	Instructions       string   `json:"instructions,omitempty"`
	Chroots            []string `json:"chroots,omitempty"`
	DeleteAfterDays    int      `json:"delete_after_days,omitempty"`
	UnlistedOnHomepage bool     `json:"unlisted_on_hp,omitempty"`
}

// ProjectEdit carries a partial update for an existing project. Nil fields
// are left unchanged farm-side. A DeleteAfterDays of 0 disables automatic
// deletion.
type ProjectEdit struct {
	Description     *string `json:"description,omitempty"`
	Instructions    *string `json:"instructions,omitempty"`
	DeleteAfterDays *int    `json:"delete_after_days"`
}

// Int returns a pointer to v, for use in ProjectEdit literals.
func Int(v int) *int { return &v }

// PackageSource describes where the farm fetches a package's sources from.
type PackageSource struct {
	Type         string `json:"source_type"`
	CloneURL     string `json:"clone_url,omitempty"`
	Committish   string `json:"committish,omitempty"`
	Spec         string `json:"spec,omitempty"`
	Subdirectory string `json:"subdirectory,omitempty"`
}

// --- wire types ---

type errorResponse struct {
	Error string `json:"error"`
}

type projectResource struct {
	Name      string `json:"name"`
	OwnerName string `json:"ownername"`
	FullName  string `json:"full_name"`
}

type monitorResponse struct {
	Packages []monitorPackage `json:"packages"`
}

type monitorPackage struct {
	Name    string                   `json:"name"`
	Chroots map[string]monitorChroot `json:"chroots"`
}

type monitorChroot struct {
	BuildID         int64         `json:"build_id"`
	State           string        `json:"state"`
	URLBuildLog     string        `json:"url_build_log"`
	URLBuildSRPMLog string        `json:"url_build_srpm_log"`
	EndedOn         *EpochSeconds `json:"ended_on"`
}

type buildResource struct {
	ID    int64  `json:"id"`
	State string `json:"state"`
}

type buildListResponse struct {
	Items []buildResource `json:"items"`
}
