package tuya

import (
	"errors"
	"fmt"
)

const (
	codeSignInvalid  = 1004
	codeTokenInvalid = 1010
)

var (
	ErrCredentialsMissing = errors.New("tuya access id and access secret are required")
	ErrSignInvalid        = errors.New("sign invalid, check tuya access id and access secret")
	ErrTokenInvalid       = errors.New("access token invalid after refresh")
	ErrNoTicket           = errors.New("no ticket_id in password ticket response")
	ErrOperateRejected    = errors.New("door operate was not accepted by the device")
	ErrNoEndpoint         = errors.New("no tuya endpoint accepted the credentials")
)

// APIError is a non-success envelope returned by the OpenAPI.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tuya api returned code %d: %s", e.Code, e.Msg)
}
