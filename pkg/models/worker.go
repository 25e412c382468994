package models

import "time"

// WorkerEndpoint describes a remote worker service.
type WorkerEndpoint struct {
	// Name is the logical worker name used by plans (e.g. "notion_agent").
	Name string `json:"name"`
	// URL is the worker's base URL.
	URL string `json:"url"`
	// Description is shown to the planner; the orchestration core treats it as opaque.
	Description string `json:"description,omitempty"`
	// Capability is a short verb phrase used in user-facing gap notices,
	// e.g. "convert it to audio".
	Capability string `json:"capability,omitempty"`
	// Timeout overrides the default per-task deadline when non-zero.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Healthy is the last observed availability.
	Healthy bool `json:"healthy"`
	// LastChecked is when Healthy was last updated.
	LastChecked time.Time `json:"last_checked,omitempty"`
}

// CapabilityOrName returns the capability phrase, falling back to the worker name.
func (w WorkerEndpoint) CapabilityOrName() string {
	if w.Capability != "" {
		return w.Capability
	}
	return "use " + w.Name
}
