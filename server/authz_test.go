package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessAllows(t *testing.T) {
	board := Board{ID: 1, OwnerID: 10}
	members := []Member{
		{BoardID: 1, UserID: 20, Role: RoleAdmin},
		{BoardID: 1, UserID: 30, Role: RoleMember},
		{BoardID: 1, UserID: 40, Role: RoleViewer},
		{BoardID: 1, UserID: 50, Role: "superuser"},
	}
	tests := []struct {
		user     int64
		required Role
		want     bool
	}{
		{10, RoleOwner, true},
		{10, RoleAdmin, true},
		{20, RoleOwner, false},
		{20, RoleAdmin, true},
		{20, RoleMember, true},
		{30, RoleAdmin, false},
		{30, RoleMember, true},
		{30, RoleViewer, true},
		{40, RoleMember, false},
		{40, RoleViewer, true},
		{50, RoleViewer, false},
		{99, RoleViewer, false},
		{0, RoleViewer, false},
	}
	for _, tt := range tests {
		got := resolveAccess(board.OwnerID, members, tt.user).Allows(tt.required)
		assert.Equal(t, tt.want, got, "user %d requires %s", tt.user, tt.required)
	}
}

func TestResolveAccess(t *testing.T) {
	members := []Member{{UserID: 20, Role: RoleAdmin}, {UserID: 10, Role: RoleViewer}}

	owner := resolveAccess(10, members, 10)
	assert.True(t, owner.IsOwner())
	assert.Equal(t, RoleOwner, owner.Role())

	admin := resolveAccess(10, members, 20)
	assert.False(t, admin.IsOwner(), "admins cannot run owner-only operations")
	assert.True(t, admin.Allows(RoleMember))
	assert.Equal(t, RoleAdmin, admin.Role())

	none := resolveAccess(10, members, 77)
	assert.True(t, none.IsNone())
	assert.Equal(t, Role(""), none.Role())
	assert.False(t, none.Allows(RoleViewer))
}

func TestRoleAssignable(t *testing.T) {
	for _, r := range []Role{RoleViewer, RoleMember, RoleAdmin} {
		assert.True(t, r.assignable(), r)
	}
	assert.False(t, RoleOwner.assignable())
	assert.False(t, Role("").assignable())
}
