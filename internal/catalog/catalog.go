package catalog

import (
	"strings"
)

// FieldKind identifies what part of an event a condition inspects.
type FieldKind int

const (
	FieldUnknown FieldKind = iota
	FieldEventID
	FieldDate
	FieldTime
	FieldUsername
	FieldUserRole
	FieldSourceIP
	FieldPostID
	FieldPageID
	FieldCustomPostID
	FieldSiteDomain
	FieldPostType
	FieldPostStatus
	FieldObject
	FieldEventType
	FieldCustomUserField
)

// Stored rules reference field kinds by their position in this list.
var fieldKinds = []FieldKind{
	FieldEventID,
	FieldDate,
	FieldTime,
	FieldUsername,
	FieldUserRole,
	FieldSourceIP,
	FieldPostID,
	FieldPageID,
	FieldCustomPostID,
	FieldSiteDomain,
	FieldPostType,
	FieldPostStatus,
	FieldObject,
	FieldEventType,
	FieldCustomUserField,
}

var fieldLabels = map[FieldKind]string{
	FieldEventID:         "EVENT ID",
	FieldDate:            "DATE",
	FieldTime:            "TIME",
	FieldUsername:        "USERNAME",
	FieldUserRole:        "USER ROLE",
	FieldSourceIP:        "SOURCE IP",
	FieldPostID:          "POST ID",
	FieldPageID:          "PAGE ID",
	FieldCustomPostID:    "CUSTOM POST ID",
	FieldSiteDomain:      "SITE DOMAIN",
	FieldPostType:        "POST TYPE",
	FieldPostStatus:      "POST STATUS",
	FieldObject:          "OBJECT",
	FieldEventType:       "EVENT TYPE",
	FieldCustomUserField: "CUSTOM USER FIELD",
}

func (f FieldKind) String() string {
	if label, ok := fieldLabels[f]; ok {
		return label
	}
	return "UNKNOWN"
}

// Operator is the comparison a condition applies.
type Operator int

const (
	OpUnknown Operator = iota
	OpEqual
	OpContains
	OpIsAfter
	OpIsBefore
	OpNotEqual
)

var operators = []Operator{OpEqual, OpContains, OpIsAfter, OpIsBefore, OpNotEqual}

var operatorLabels = map[Operator]string{
	OpEqual:    "IS EQUAL",
	OpContains: "CONTAINS",
	OpIsAfter:  "IS AFTER",
	OpIsBefore: "IS BEFORE",
	OpNotEqual: "IS NOT",
}

func (o Operator) String() string {
	if label, ok := operatorLabels[o]; ok {
		return label
	}
	return "UNKNOWN"
}

// GroupOp joins an item to the item before it.
type GroupOp int

const (
	And GroupOp = iota
	Or
)

func (g GroupOp) String() string {
	if g == Or {
		return "OR"
	}
	return "AND"
}

// PostTypeConstraint is the extra post type check carried by the legacy
// PAGE ID and CUSTOM POST ID field kinds.
type PostTypeConstraint int

const (
	PostTypeAny PostTypeConstraint = iota
	PostTypePage
	PostTypeCustom
)

// Option is a select-list entry whose display label and storage key may differ.
type Option struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
}

// Source holds the domain values the catalog is built from.
type Source struct {
	PostTypes  []string
	UserRoles  []string
	Objects    []Option
	EventTypes []Option
}

var postStatuses = []string{"draft", "future", "pending", "private", "publish"}

// Catalog translates stored select indices into field kinds, operators and
// domain values. Every lookup reports ok=false for an index it cannot resolve.
type Catalog struct {
	postTypes  []string
	userRoles  []string
	objects    []Option
	eventTypes []Option
}

// New builds a catalog. The slices are copied so later edits to src do not leak in.
func New(src Source) *Catalog {
	return &Catalog{
		postTypes:  append([]string(nil), src.PostTypes...),
		userRoles:  append([]string(nil), src.UserRoles...),
		objects:    append([]Option(nil), src.Objects...),
		eventTypes: append([]Option(nil), src.EventTypes...),
	}
}

// DefaultSource returns the stock values of a single-site installation.
func DefaultSource() Source {
	return Source{
		PostTypes: []string{"post", "page", "attachment", "revision", "nav_menu_item", "product"},
		UserRoles: []string{"Administrator", "Editor", "Author", "Contributor", "Subscriber", "Shop Manager"},
		Objects: []Option{
			{Key: "user", Label: "User"},
			{Key: "system", Label: "System"},
			{Key: "post", Label: "Post"},
			{Key: "page", Label: "Page"},
			{Key: "plugin", Label: "Plugin"},
			{Key: "theme", Label: "Theme"},
			{Key: "database", Label: "Database"},
			{Key: "file", Label: "File"},
			{Key: "menu", Label: "Menu"},
			{Key: "comment", Label: "Comment"},
			{Key: "widget", Label: "Widget"},
			{Key: "multisite-network", Label: "Multisite Network"},
			{Key: "wp-activity-log", Label: "Activity Log Plugin"},
		},
		EventTypes: []Option{
			{Key: "login", Label: "Login"},
			{Key: "logout", Label: "Logout"},
			{Key: "failed-login", Label: "Failed Login"},
			{Key: "created", Label: "Created"},
			{Key: "modified", Label: "Modified"},
			{Key: "deleted", Label: "Deleted"},
			{Key: "activated", Label: "Activated"},
			{Key: "deactivated", Label: "Deactivated"},
			{Key: "published", Label: "Published"},
			{Key: "uploaded", Label: "Uploaded"},
			{Key: "blocked", Label: "Blocked"},
			{Key: "session-destroyed", Label: "Terminated Session"},
		},
	}
}

// Field resolves a stored field index. The legacy PAGE ID and CUSTOM POST ID
// kinds resolve to FieldPostID together with their post type constraint.
func (c *Catalog) Field(idx int) (FieldKind, PostTypeConstraint, bool) {
	if idx < 0 || idx >= len(fieldKinds) {
		return FieldUnknown, PostTypeAny, false
	}
	switch kind := fieldKinds[idx]; kind {
	case FieldPageID:
		return FieldPostID, PostTypePage, true
	case FieldCustomPostID:
		return FieldPostID, PostTypeCustom, true
	default:
		return kind, PostTypeAny, true
	}
}

func (c *Catalog) Operator(idx int) (Operator, bool) {
	if idx < 0 || idx >= len(operators) {
		return OpUnknown, false
	}
	return operators[idx], true
}

// GroupOp resolves the stored AND/OR index; anything but 1 means AND.
func (c *Catalog) GroupOp(idx int) GroupOp {
	if idx == 1 {
		return Or
	}
	return And
}

func (c *Catalog) PostStatus(idx int) (string, bool) {
	return lookup(postStatuses, idx)
}

func (c *Catalog) PostType(idx int) (string, bool) {
	return lookup(c.postTypes, idx)
}

func (c *Catalog) UserRole(idx int) (string, bool) {
	return lookup(c.userRoles, idx)
}

func (c *Catalog) Object(idx int) (Option, bool) {
	return lookup(c.objects, idx)
}

func (c *Catalog) EventType(idx int) (Option, bool) {
	return lookup(c.eventTypes, idx)
}

func lookup[T any](list []T, idx int) (T, bool) {
	var zero T
	if idx < 0 || idx >= len(list) {
		return zero, false
	}
	return list[idx], true
}

// Lists is the select-list view of a catalog served to the admin UI.
type Lists struct {
	GroupOps     []string `json:"group_ops"`
	Fields       []string `json:"fields"`
	Operators    []string `json:"operators"`
	PostStatuses []string `json:"post_statuses"`
	PostTypes    []string `json:"post_types"`
	UserRoles    []string `json:"user_roles"`
	Objects      []Option `json:"objects"`
	EventTypes   []Option `json:"event_types"`
}

func (c *Catalog) Lists() Lists {
	lists := Lists{
		GroupOps:     []string{And.String(), Or.String()},
		PostStatuses: append([]string(nil), postStatuses...),
		PostTypes:    append([]string(nil), c.postTypes...),
		UserRoles:    append([]string(nil), c.userRoles...),
		Objects:      append([]Option(nil), c.objects...),
		EventTypes:   append([]Option(nil), c.eventTypes...),
	}
	for _, f := range fieldKinds {
		lists.Fields = append(lists.Fields, f.String())
	}
	for _, op := range operators {
		lists.Operators = append(lists.Operators, op.String())
	}
	return lists
}

var roleReplacer = strings.NewReplacer(" ", "_", "-", "_")

// NormalizeRole folds a role label ("Shop Manager") onto its slug form ("shop_manager").
func NormalizeRole(s string) string {
	return roleReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
}

// NormalizeKey folds an object or event type label onto its key form ("Failed Login" -> "failed-login").
func NormalizeKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}

// NormalizePostStatus maps the stored "publish" status onto the "published" label.
func NormalizePostStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "publish" {
		return "published"
	}
	return s
}
