package transport

// RadioLink is the capability a concrete radio stack binding provides.
// Implementations must not call back into the transport while holding
// their own locks in a way that can deadlock; callbacks may be delivered
// synchronously from inside these methods.
type RadioLink interface {
	StartService() error
	StopService() error
	StartAdvertising() error
	StopAdvertising() error
	// SendNotification pushes one frame to the peer on the notify endpoint.
	SendNotification(frame []byte) error
	DisconnectPeer() error
	ConnectedPeerCount() int
}

// StackResetter is implemented by links that can reinitialize their radio
// stack without blocking.
type StackResetter interface {
	ResetStack() error
}

// RadioLinkEvents receives link-level callbacks. They may be invoked from
// the radio stack's own goroutine.
type RadioLinkEvents interface {
	OnLinkUp()
	OnLinkDown(reason string)
	OnTransferUnitNegotiated(mtu int)
	OnDataReceived(data []byte)
}

// PairingEvents receives the credential exchange callbacks. Credential
// returns the configured credential without starting an exchange, for
// adapters that program it ahead of any peer.
type PairingEvents interface {
	Credential() uint32
	OnCredentialRequested() uint32
	OnCredentialConfirm(candidate uint32) bool
	OnAuthenticationResult(success bool)
}

// LinkHandler is everything an adapter reports to. *Transport implements it.
type LinkHandler interface {
	RadioLinkEvents
	PairingEvents
}
