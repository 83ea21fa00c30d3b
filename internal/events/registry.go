package events

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Severity 事件级别
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Well-known event kinds the engine special-cases.
const (
	KindLogin               = 1000
	KindLogout              = 1001
	KindFailedLoginKnown    = 1002
	KindFailedLoginUnknown  = 1003
	KindCustomFieldChanged  = 4015
	KindCustomFieldAdded    = 4016
	KindUserCreated         = 4000
	KindUserRoleChanged     = 4002
	KindPluginInstalled     = 5000
	KindPluginActivated     = 5001
	KindThemeInstalled      = 5005
	KindPostPublished       = 2001
	KindPostDeleted         = 2008
	KindCoreUpdated         = 6004
	KindSessionsTerminated  = 1006
	KindLoginBlocked        = 1004
	KindUserPasswordChanged = 4003
)

// Kind describes one auditable event.
type Kind struct {
	ID          int      `yaml:"id" json:"id"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Object      string   `yaml:"object" json:"object"`
	EventType   string   `yaml:"event_type" json:"event_type"`
	Description string   `yaml:"description" json:"description"`
}

var defaultKinds = []Kind{
	{KindLogin, SeverityLow, "user", "login", "User logged in"},
	{KindLogout, SeverityLow, "user", "logout", "User logged out"},
	{KindFailedLoginKnown, SeverityMedium, "user", "failed-login", "Failed login attempt for an existing user"},
	{KindFailedLoginUnknown, SeverityHigh, "system", "failed-login", "Failed login attempt with a non-existing username"},
	{KindLoginBlocked, SeverityMedium, "user", "blocked", "Login blocked because the user already has a session"},
	{KindSessionsTerminated, SeverityMedium, "user", "session-destroyed", "User terminated all other sessions"},
	{KindPostPublished, SeverityLow, "post", "published", "Published a post"},
	{KindPostDeleted, SeverityMedium, "post", "deleted", "Permanently deleted a post"},
	{KindUserCreated, SeverityCritical, "user", "created", "New user created"},
	{KindUserRoleChanged, SeverityCritical, "user", "modified", "User role changed"},
	{KindUserPasswordChanged, SeverityHigh, "user", "modified", "User changed their password"},
	{KindCustomFieldChanged, SeverityMedium, "user", "modified", "Custom user profile field changed"},
	{KindCustomFieldAdded, SeverityMedium, "user", "modified", "Custom user profile field added"},
	{KindPluginInstalled, SeverityCritical, "plugin", "created", "Installed a plugin"},
	{KindPluginActivated, SeverityHigh, "plugin", "activated", "Activated a plugin"},
	{KindThemeInstalled, SeverityCritical, "theme", "created", "Installed a theme"},
	{KindCoreUpdated, SeverityMedium, "system", "modified", "Core updated"},
}

// IsFailedLogin reports whether the kind is one of the two failed-login events.
func IsFailedLogin(kindID int) bool {
	return kindID == KindFailedLoginKnown || kindID == KindFailedLoginUnknown
}

// IsCustomFieldChange reports whether the kind records a custom user field change.
func IsCustomFieldChange(kindID int) bool {
	return kindID == KindCustomFieldChanged || kindID == KindCustomFieldAdded
}

// Registry resolves event kinds to their metadata. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[int]Kind
}

// NewRegistry returns the built-in kinds with overlay entries replacing or extending them.
func NewRegistry(overlay ...Kind) *Registry {
	r := &Registry{kinds: make(map[int]Kind, len(defaultKinds)+len(overlay))}
	for _, k := range defaultKinds {
		r.kinds[k.ID] = k
	}
	for _, k := range overlay {
		r.kinds[k.ID] = k
	}
	return r
}

type registryFile struct {
	Events []Kind `yaml:"events"`
}

// LoadFile 从 YAML 文件加载事件定义
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse events file: %w", err)
	}

	for _, k := range file.Events {
		if k.ID <= 0 {
			return nil, fmt.Errorf("invalid event id %d in %s", k.ID, path)
		}
		if !validSeverity(k.Severity) {
			return nil, fmt.Errorf("invalid severity %q for event %d", k.Severity, k.ID)
		}
	}

	return NewRegistry(file.Events...), nil
}

func validSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

func (r *Registry) Lookup(id int) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[id]
	return k, ok
}

// GetSeverity resolves the severity of an event kind; unknown kinds are info.
func (r *Registry) GetSeverity(id int) Severity {
	if k, ok := r.Lookup(id); ok && k.Severity != "" {
		return k.Severity
	}
	return SeverityInfo
}

// Register adds or replaces an event kind.
func (r *Registry) Register(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[k.ID] = k
}

// List returns every kind ordered by id.
func (r *Registry) List() []Kind {
	r.mu.RLock()
	kinds := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		kinds = append(kinds, k)
	}
	r.mu.RUnlock()

	sort.Slice(kinds, func(i, j int) bool { return kinds[i].ID < kinds[j].ID })
	return kinds
}
