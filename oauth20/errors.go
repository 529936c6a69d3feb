package oauth20

import (
	"github.com/dpup/obsidian/errors"
	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"
	"google.golang.org/grpc/codes"
)

// Standard OAuth 2.0 errors. Each wraps the matching go-oauth2 error, so
// errors.Is matches either value.
var (
	ErrInvalidClient           = errors.NewC(oauth2errors.ErrInvalidClient, codes.Unauthenticated)
	ErrInvalidGrant            = errors.NewC(oauth2errors.ErrInvalidGrant, codes.InvalidArgument)
	ErrInvalidScope            = errors.NewC(oauth2errors.ErrInvalidScope, codes.InvalidArgument)
	ErrInvalidRedirectURI      = errors.NewC(oauth2errors.ErrInvalidRedirectURI, codes.InvalidArgument)
	ErrInvalidRequest          = errors.NewC(oauth2errors.ErrInvalidRequest, codes.InvalidArgument)
	ErrAccessDenied            = errors.NewC(oauth2errors.ErrAccessDenied, codes.PermissionDenied)
	ErrUnsupportedGrantType    = errors.NewC(oauth2errors.ErrUnsupportedGrantType, codes.InvalidArgument)
	ErrUnsupportedResponseType = errors.NewC(oauth2errors.ErrUnsupportedResponseType, codes.InvalidArgument)
	ErrInvalidAccessToken      = errors.NewC(oauth2errors.ErrInvalidAccessToken, codes.Unauthenticated)

	// Returned when a message arrives in a state that can not accept it, such
	// as a second permission grant for the same flow.
	ErrUnexpectedStep = errors.NewC("unexpected_step", codes.FailedPrecondition)
)
