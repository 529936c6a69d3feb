package domain

import (
	"crypto/subtle"
	"slices"
	"time"
)

// Client is an application registered to request authorization.
type Client struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	Secret       string    `json:"secret"`
	RedirectURIs []string  `json:"redirectUris"`
	Scopes       []string  `json:"scopes,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PK implements storage.Model.
func (c Client) PK() string {
	return c.ID
}

// ValidRedirectURI reports whether uri exactly matches one of the client's
// registered redirect uris.
func (c *Client) ValidRedirectURI(uri string) bool {
	return uri != "" && slices.Contains(c.RedirectURIs, uri)
}

// ValidSecret compares secret against the client's secret in constant time.
func (c *Client) ValidSecret(secret string) bool {
	if c.Secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) == 1
}

// AllowsScope reports whether the client may request scopeName. A client
// without an explicit scope list may request any scope.
func (c *Client) AllowsScope(scopeName string) bool {
	return len(c.Scopes) == 0 || slices.Contains(c.Scopes, scopeName)
}
