package ippool

import "errors"

var (
	ErrInvalidNetworkSpec = errors.New("ippool: invalid network specification")
	ErrIPNotWithinPool    = errors.New("ippool: ip address is not within the pool")
	ErrIPAlreadyAssigned  = errors.New("ippool: ip address already assigned")
	ErrPoolExhausted      = errors.New("ippool: ip address pool exhausted")
	ErrNotFound           = errors.New("ippool: no ip pair allocated")
)
