package domain

import "errors"

var (
	ErrCredentialMissing  = errors.New("credential missing")
	ErrCredentialInvalid  = errors.New("credential invalid")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrInvalidRoomName    = errors.New("invalid room name")
	ErrConnectionNotFound = errors.New("connection not found")
)

// ErrorCode maps a taxonomy error to its stable wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCredentialMissing):
		return "credential_missing"
	case errors.Is(err, ErrCredentialInvalid):
		return "credential_invalid"
	case errors.Is(err, ErrIdentityNotFound):
		return "identity_not_found"
	case errors.Is(err, ErrRoleNotFound):
		return "role_not_found"
	case errors.Is(err, ErrInvalidRoomName):
		return "invalid_room_name"
	case errors.Is(err, ErrConnectionNotFound):
		return "connection_not_found"
	}
	return "internal"
}
