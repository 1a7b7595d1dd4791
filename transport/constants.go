package transport

const (
	// ServiceUUID identifies the clipboard sync GATT service.
	ServiceUUID = "8e0c0001-3d7e-4b2a-9c41-5a7f21d6b0ce"
	// FrameWriteCharUUID is the characteristic the central writes frames
	// to (write without response).
	FrameWriteCharUUID = "8e0c0002-3d7e-4b2a-9c41-5a7f21d6b0ce"
	// FrameNotifyCharUUID is the characteristic the peripheral notifies
	// frames on.
	FrameNotifyCharUUID = "8e0c0003-3d7e-4b2a-9c41-5a7f21d6b0ce"

	// DefaultATTMTU is the BLE baseline MTU before negotiation.
	DefaultATTMTU = 23
	// PreferredATTMTU is the MTU requested after connect.
	PreferredATTMTU = 247
	// ATTHeaderSize is the ATT opcode and handle overhead per write.
	ATTHeaderSize = 3
)
