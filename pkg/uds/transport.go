package uds

// Transport carries whole UDS messages. Segmentation and reassembly happen
// below this interface.
//
// Poll advances the transport state machine and must be called before
// HasFrame. Receive is only valid while HasFrame reports true.
type Transport interface {
	Send(payload []byte) error
	Poll()
	HasFrame() bool
	Receive() []byte
}

// AddressedSender is implemented by transports able to send a message to an
// arbitration ID other than their configured target, e.g. a functional
// broadcast address.
type AddressedSender interface {
	SendTo(id uint32, payload []byte) error
}
