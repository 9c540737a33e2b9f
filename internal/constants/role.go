package constants

import "strings"

// Role represents whether a source is a primary cluster or its replica
type Role string

const (
	// RolePrimary indicates a "cluster<i>" source
	RolePrimary Role = "primary"

	// RoleReplica indicates a "cluster<i>slave" source
	RoleReplica Role = "replica"
)

// Valid returns true if the role is a recognized value.
func (r Role) Valid() bool {
	switch r {
	case RolePrimary, RoleReplica:
		return true
	}
	return false
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// RoleOf classifies a source name by its replica suffix.
func RoleOf(name string) Role {
	if strings.HasSuffix(name, ReplicaSuffix) {
		return RoleReplica
	}
	return RolePrimary
}
