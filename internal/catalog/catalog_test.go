package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldResolvesStoredIndex(t *testing.T) {
	c := New(DefaultSource())

	tests := []struct {
		idx        int
		kind       FieldKind
		constraint PostTypeConstraint
		ok         bool
	}{
		{0, FieldEventID, PostTypeAny, true},
		{4, FieldUserRole, PostTypeAny, true},
		{6, FieldPostID, PostTypeAny, true},
		{7, FieldPostID, PostTypePage, true},
		{8, FieldPostID, PostTypeCustom, true},
		{14, FieldCustomUserField, PostTypeAny, true},
		{15, FieldUnknown, PostTypeAny, false},
		{-1, FieldUnknown, PostTypeAny, false},
	}

	for _, tt := range tests {
		kind, constraint, ok := c.Field(tt.idx)
		assert.Equal(t, tt.kind, kind, "index %d", tt.idx)
		assert.Equal(t, tt.constraint, constraint, "index %d", tt.idx)
		assert.Equal(t, tt.ok, ok, "index %d", tt.idx)
	}
}

func TestOperatorAndGroupOp(t *testing.T) {
	c := New(DefaultSource())

	op, ok := c.Operator(1)
	require.True(t, ok)
	assert.Equal(t, OpContains, op)

	op, ok = c.Operator(4)
	require.True(t, ok)
	assert.Equal(t, OpNotEqual, op)

	_, ok = c.Operator(5)
	assert.False(t, ok)

	assert.Equal(t, And, c.GroupOp(0))
	assert.Equal(t, Or, c.GroupOp(1))
	assert.Equal(t, And, c.GroupOp(7))
}

func TestValueListsToleranceForRemovedEntries(t *testing.T) {
	c := New(Source{
		PostTypes: []string{"post"},
		UserRoles: []string{"Editor"},
		Objects:   []Option{{Key: "user", Label: "User"}},
	})

	_, ok := c.PostType(3)
	assert.False(t, ok)
	_, ok = c.UserRole(1)
	assert.False(t, ok)
	_, ok = c.EventType(0)
	assert.False(t, ok)

	status, ok := c.PostStatus(4)
	require.True(t, ok)
	assert.Equal(t, "publish", status)

	obj, ok := c.Object(0)
	require.True(t, ok)
	assert.Equal(t, "user", obj.Key)
}

func TestNewCopiesSource(t *testing.T) {
	src := Source{UserRoles: []string{"Editor"}}
	c := New(src)
	src.UserRoles[0] = "Changed"

	role, ok := c.UserRole(0)
	require.True(t, ok)
	assert.Equal(t, "Editor", role)
}

func TestNormalizers(t *testing.T) {
	assert.Equal(t, "shop_manager", NormalizeRole(" Shop Manager "))
	assert.Equal(t, "shop_manager", NormalizeRole("shop-manager"))
	assert.Equal(t, "failed-login", NormalizeKey("Failed Login"))
	assert.Equal(t, "published", NormalizePostStatus("publish"))
	assert.Equal(t, "published", NormalizePostStatus("Published"))
	assert.Equal(t, "draft", NormalizePostStatus("DRAFT"))
}

func TestLists(t *testing.T) {
	lists := New(DefaultSource()).Lists()

	assert.Len(t, lists.Fields, 15)
	assert.Equal(t, "PAGE ID", lists.Fields[7])
	assert.Equal(t, []string{"IS EQUAL", "CONTAINS", "IS AFTER", "IS BEFORE", "IS NOT"}, lists.Operators)
	assert.Equal(t, []string{"AND", "OR"}, lists.GroupOps)
}
