package main

// Role is a board permission level. Owner is never stored on a membership row;
// it is derived from the board's owner field.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

func (r Role) rank() int {
	switch r {
	case RoleViewer:
		return 0
	case RoleMember:
		return 1
	case RoleAdmin:
		return 2
	case RoleOwner:
		return 3
	default:
		return -1
	}
}

// assignable reports whether the role may be stored on a membership row.
func (r Role) assignable() bool {
	return r == RoleViewer || r == RoleMember || r == RoleAdmin
}

type accessKind int

const (
	accessNone accessKind = iota
	accessOwner
	accessMember
)

// Access is the caller's resolved standing on one board: owner, a member
// with a stored role, or nothing.
type Access struct {
	kind accessKind
	role Role
}

func ownerAccess() Access { return Access{kind: accessOwner, role: RoleOwner} }

func memberAccess(role Role) Access { return Access{kind: accessMember, role: role} }

func (a Access) IsOwner() bool { return a.kind == accessOwner }

func (a Access) IsNone() bool { return a.kind == accessNone }

// Role returns the effective role, or "" when the caller has no access.
func (a Access) Role() Role {
	if a.kind == accessNone {
		return ""
	}
	return a.role
}

// Allows is the hierarchy check. Owner-only operations must use IsOwner
// instead: an admin outranks a member but still cannot delete the board or
// remove members.
func (a Access) Allows(required Role) bool {
	if a.kind == accessNone {
		return false
	}
	return a.role.rank() >= required.rank()
}

// resolveAccess is the single place role resolution happens.
func resolveAccess(ownerID int64, members []Member, userID int64) Access {
	if userID != 0 && ownerID == userID {
		return ownerAccess()
	}
	for _, m := range members {
		if m.UserID == userID {
			if !m.Role.assignable() {
				return Access{}
			}
			return memberAccess(m.Role)
		}
	}
	return Access{}
}
