// Package bleclip implements the wire protocol engine for synchronizing
// clipboard contents between two peer devices over a Bluetooth LE GATT
// link.
//
// The engine splits arbitrary-sized clipboard content into bounded frames,
// reassembles them in order on the receiving side, optionally compresses
// and authenticated-encrypts the payload, and suppresses echo loops by
// recognizing content the device itself just received. Platform concerns
// (the BLE stack, the clipboard APIs, the trust consent prompt) stay behind
// collaborator interfaces.
//
// Example:
//
//	opts := bleclip.NewOptions()
//	opts.SharedKey = key
//	session, err := bleclip.NewSession(opts, link, clip)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	session.HandleLocalChange(clipboard.NewText("hello"))
package bleclip
