// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rbac

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnknownPermission is returned when a token is outside the permission vocabulary.
	ErrUnknownPermission = errors.New("unknown permission")

	// ErrUnknownRole is returned when a name is not one of the defined roles.
	ErrUnknownRole = errors.New("unknown role")
)

// =============================================================================
// PERMISSIONS
// =============================================================================

// Permission is a capability token drawn from a closed vocabulary.
type Permission string

const (
	// Menu permissions
	PermMenuView   Permission = "menu.view"
	PermMenuCreate Permission = "menu.create"
	PermMenuEdit   Permission = "menu.edit"
	PermMenuDelete Permission = "menu.delete"

	// Sales permissions
	PermSalesView     Permission = "sales.view"
	PermSalesProcess  Permission = "sales.process"
	PermSalesDiscount Permission = "sales.discount"
	PermSalesRefund   Permission = "sales.refund"
	PermSalesVoid     Permission = "sales.void"

	// Inventory permissions
	PermInventoryView   Permission = "inventory.view"
	PermInventoryEdit   Permission = "inventory.edit"
	PermInventoryImport Permission = "inventory.import"

	// Report permissions
	PermReportsView   Permission = "reports.view"
	PermReportsExport Permission = "reports.export"

	// User management permissions
	PermUsersView   Permission = "users.view"
	PermUsersCreate Permission = "users.create"
	PermUsersEdit   Permission = "users.edit"
	PermUsersDelete Permission = "users.delete"

	// System permissions
	PermSystemSettings    Permission = "system.settings"
	PermSystemMaintenance Permission = "system.maintenance"
	PermSystemBackup      Permission = "system.backup"
	PermSystemAudit       Permission = "system.audit"
)

// allPermissions lists the vocabulary in declaration order.
var allPermissions = []Permission{
	PermMenuView, PermMenuCreate, PermMenuEdit, PermMenuDelete,
	PermSalesView, PermSalesProcess, PermSalesDiscount, PermSalesRefund, PermSalesVoid,
	PermInventoryView, PermInventoryEdit, PermInventoryImport,
	PermReportsView, PermReportsExport,
	PermUsersView, PermUsersCreate, PermUsersEdit, PermUsersDelete,
	PermSystemSettings, PermSystemMaintenance, PermSystemBackup, PermSystemAudit,
}

// AllPermissions returns every permission in the vocabulary.
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// ParsePermission converts a token into a Permission.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.TrimSpace(strings.ToLower(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
	}
	return p, nil
}

// Valid reports whether p belongs to the vocabulary.
func (p Permission) Valid() bool {
	for _, known := range allPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// Domain returns the part before the dot, e.g. "sales".
func (p Permission) Domain() string {
	domain, _, _ := strings.Cut(string(p), ".")
	return domain
}

// Action returns the part after the dot, e.g. "process".
func (p Permission) Action() string {
	_, action, _ := strings.Cut(string(p), ".")
	return action
}

// IsDestructive reports whether p edits, deletes or administers something.
// View-level system access (system.audit is read-only) is not destructive.
func (p Permission) IsDestructive() bool {
	switch p.Action() {
	case "edit", "delete", "void", "refund", "import":
		return true
	}
	switch p.Domain() {
	case "users":
		return p != PermUsersView
	case "system":
		return p != PermSystemAudit
	}
	return false
}

func (p Permission) String() string { return string(p) }

// =============================================================================
// PERMISSION SET
// =============================================================================

// PermissionSet is an unordered set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions, dropping duplicates.
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Len returns the set's cardinality.
func (s PermissionSet) Len() int { return len(s) }

// Add inserts p.
func (s PermissionSet) Add(p Permission) { s[p] = struct{}{} }

// Remove deletes p.
func (s PermissionSet) Remove(p Permission) { delete(s, p) }

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted list.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a list, rejecting tokens outside the vocabulary.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	out := make(PermissionSet, len(list))
	for _, raw := range list {
		p, err := ParsePermission(raw)
		if err != nil {
			return err
		}
		out[p] = struct{}{}
	}
	*s = out
	return nil
}
