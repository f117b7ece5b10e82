package provisioning

import "errors"

var (
	ErrCommonNameBlank     = errors.New("common name must not be blank")
	ErrCommonNameNotUnique = errors.New("common name already in use")
	ErrNotFound            = errors.New("gateway not found")
	ErrIssuerFailure       = errors.New("certificate issuer failure")
	ErrStoreFailure        = errors.New("gateway store failure")
	ErrInconsistentState   = errors.New("gateway committed but not persisted")
)
