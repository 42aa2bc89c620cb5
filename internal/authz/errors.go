package authz

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")

	ErrNotAMember            = errors.New("not a member")
	ErrModuleDisabled        = errors.New("module disabled")
	ErrPermissionNotGranted  = errors.New("permission not granted")
	ErrRoleNotFound          = errors.New("role not found")
	ErrInconsistentRoleState = errors.New("inconsistent role state")

	ErrInvitationExpired         = errors.New("invitation expired")
	ErrInvitationAlreadyAccepted = errors.New("invitation already accepted")
	ErrInvitationEmailMismatch   = errors.New("invitation email mismatch")
	ErrInvitationRevoked         = errors.New("invitation revoked")
)
