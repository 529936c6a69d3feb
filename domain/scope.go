package domain

import "slices"

// PermissionScope is a named bundle of claim types that a client can request
// and a user can approve.
type PermissionScope struct {
	ID          string   `json:"id"`
	ScopeName   string   `json:"scopeName"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	ClaimTypes  []string `json:"claimTypes"`
}

// PK implements storage.Model.
func (s PermissionScope) PK() string {
	return s.ID
}

// AddClaimType adds t to the scope, returning false if already present.
func (s *PermissionScope) AddClaimType(t string) bool {
	if slices.Contains(s.ClaimTypes, t) {
		return false
	}
	s.ClaimTypes = append(s.ClaimTypes, t)
	return true
}

// RemoveClaimType removes t from the scope, returning false if absent.
func (s *PermissionScope) RemoveClaimType(t string) bool {
	i := slices.Index(s.ClaimTypes, t)
	if i < 0 {
		return false
	}
	s.ClaimTypes = slices.Delete(s.ClaimTypes, i, i+1)
	return true
}
