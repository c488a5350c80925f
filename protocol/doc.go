// Package protocol implements the Secalot token update command protocol.
//
// The token is a smart card; every operation is one short command APDU
// answered by a response ending in a 2-byte status word:
//
//	Command:  [CLA][INS][P1][P2]([Lc][DATA...])
//	Response: [DATA...][SW1][SW2]
//
// StatusSuccess (0x9000) is the only success value. Anything else becomes a
// *ProtocolError, which matches ErrInvalidResponse.
//
// # Command Builders
//
// Use the Build* functions to create command frames:
//
//	cmd, err := protocol.BuildGetDeviceInfoCmd()
//	cmd, err := protocol.BuildLoadChunkCmd(chunk)
//	// ... etc
//
// BuildFrames produces the complete firmware and bootloader sequences of an
// update image:
//
//	frames, err := protocol.BuildFrames(img, layout, cleanFileSystem)
//
// # Response Parsers
//
//	data, err := protocol.CheckResponse("get device info", raw)
//	info, err := protocol.ParseDeviceInfo(data)
//
// # Modes
//
// In firmware mode the update commands are served by a control applet that
// must be selected first (BuildSelectControlAppletCmd). The bootloader
// accepts them directly.
package protocol
