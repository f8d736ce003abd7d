package ierr

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource conflict")
	ErrInternalServer = errors.New("internal server error")

	ErrAuthentication = errors.New("license authentication failed")
	ErrUntrusted      = errors.New("signature not trusted")
	ErrDecoding       = errors.New("malformed license document")
	ErrEncoding       = errors.New("license cannot be encoded")
	ErrNoRecord       = errors.New("component is not tracked for licensing")

	ErrInvalidAPIKey = errors.New("api key not found or invalid")
	ErrStoreFailed   = errors.New("license store operation failed")
)
