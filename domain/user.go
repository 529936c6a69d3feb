package domain

import (
	"slices"
	"time"
)

// User is a resource owner that can sign in and grant clients access.
type User struct {
	ID                string                `json:"id"`
	UserName          string                `json:"userName"`
	PasswordHash      []byte                `json:"passwordHash,omitempty"`
	Profile           Profile               `json:"profile"`
	Claims            map[string]string     `json:"claims,omitempty"`
	AuthorizedClients []ClientAuthorization `json:"authorizedClients,omitempty"`
	CreatedAt         time.Time             `json:"createdAt"`
}

// Profile carries the standard profile claims of a user.
type Profile struct {
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
	Nickname   string `json:"nickname,omitempty"`
	Email      string `json:"email,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Birthdate  string `json:"birthdate,omitempty"`
}

// ClientAuthorization records the scopes a user has granted to a client.
type ClientAuthorization struct {
	ClientID   string    `json:"clientId"`
	ScopeNames []string  `json:"scopeNames"`
	GrantedAt  time.Time `json:"grantedAt"`
}

// PK implements storage.Model.
func (u User) PK() string {
	return u.ID
}

// NewUser returns a user with the given id and user name.
func NewUser(id, userName string) *User {
	return &User{
		ID:        id,
		UserName:  userName,
		Claims:    map[string]string{},
		CreatedAt: time.Now(),
	}
}

// IsClientAuthorized reports whether the user has previously granted client
// every one of scopeNames.
func (u *User) IsClientAuthorized(client *Client, scopeNames []string) bool {
	if client == nil {
		return false
	}
	for _, a := range u.AuthorizedClients {
		if a.ClientID != client.ID {
			continue
		}
		for _, name := range scopeNames {
			if !slices.Contains(a.ScopeNames, name) {
				return false
			}
		}
		return true
	}
	return false
}

// GrantClient records that the user granted client the given scopes. Scopes
// accumulate across grants.
func (u *User) GrantClient(client *Client, scopes []*PermissionScope) {
	names := make([]string, 0, len(scopes))
	for _, s := range scopes {
		names = append(names, s.ScopeName)
	}
	for i, a := range u.AuthorizedClients {
		if a.ClientID == client.ID {
			for _, n := range names {
				if !slices.Contains(a.ScopeNames, n) {
					a.ScopeNames = append(a.ScopeNames, n)
				}
			}
			a.GrantedAt = time.Now()
			u.AuthorizedClients[i] = a
			return
		}
	}
	u.AuthorizedClients = append(u.AuthorizedClients, ClientAuthorization{
		ClientID:   client.ID,
		ScopeNames: names,
		GrantedAt:  time.Now(),
	})
}

// ClaimsFor resolves the claims released by scopes. Only claim types named by
// one of the scopes are included, and types the user has no value for are
// omitted.
func (u *User) ClaimsFor(scopes []*PermissionScope) map[string]string {
	claims := map[string]string{}
	for _, s := range scopes {
		for _, t := range s.ClaimTypes {
			if v, ok := u.claim(t); ok {
				claims[t] = v
			}
		}
	}
	return claims
}

func (u *User) claim(claimType string) (string, bool) {
	var v string
	switch claimType {
	case ClaimSubject:
		v = u.ID
	case ClaimName:
		v = u.UserName
	case ClaimGivenName:
		v = u.Profile.GivenName
	case ClaimFamilyName:
		v = u.Profile.FamilyName
	case ClaimNickname:
		v = u.Profile.Nickname
	case ClaimEmail:
		v = u.Profile.Email
	case ClaimGender:
		v = u.Profile.Gender
	case ClaimBirthdate:
		v = u.Profile.Birthdate
	default:
		v = u.Claims[claimType]
	}
	return v, v != ""
}

// UpdateProfile replaces the user's profile.
func (u *User) UpdateProfile(p Profile) {
	u.Profile = p
}

// UpdateUserName changes the name the user signs in with.
func (u *User) UpdateUserName(userName string) {
	u.UserName = userName
}

// ReplaceClaims replaces the user's custom claims.
func (u *User) ReplaceClaims(claims map[string]string) {
	u.Claims = make(map[string]string, len(claims))
	for k, v := range claims {
		u.Claims[k] = v
	}
}
