package oauth20

// Status is the internal progress of a grant saga.
type Status int

const (
	StatusNotProcessed Status = iota
	StatusRequireSignIn
	StatusCanRequestToken
	StatusRequirePermissionGrant
	StatusAuthorizationCodeGenerated
	StatusImplicitTokenReturned
	StatusFinished
	StatusCancelled
	StatusFail
)

var statusNames = map[Status]string{
	StatusNotProcessed:               "NotProcessed",
	StatusRequireSignIn:              "RequireSignIn",
	StatusCanRequestToken:            "CanRequestToken",
	StatusRequirePermissionGrant:     "RequirePermissionGrant",
	StatusAuthorizationCodeGenerated: "AuthorizationCodeGenerated",
	StatusImplicitTokenReturned:      "ImplicitTokenReturned",
	StatusFinished:                   "Finished",
	StatusCancelled:                  "Cancelled",
	StatusFail:                       "Fail",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "Unknown"
}

// Terminal reports whether no further message can advance the saga.
func (s Status) Terminal() bool {
	switch s {
	case StatusImplicitTokenReturned, StatusFinished, StatusCancelled, StatusFail:
		return true
	}
	return false
}

// State is the outcome of one saga step. Exactly one is returned per step.
type State int

const (
	RequireSignIn State = iota + 1
	RequirePermissionGrant
	AuthorizationCodeGenerated
	Finished
	Cancelled
	Fail
	// Rejected answers a message the saga can not take in its current
	// status. The saga is left registered and unchanged.
	Rejected
)

var stateNames = map[State]string{
	RequireSignIn:              "RequireSignIn",
	RequirePermissionGrant:     "RequirePermissionGrant",
	AuthorizationCodeGenerated: "AuthorizationCodeGenerated",
	Finished:                   "Finished",
	Cancelled:                  "Cancelled",
	Fail:                       "Fail",
	Rejected:                   "Rejected",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}
