package transport

// GATT characteristics used by the toys.
const (
	// V2 toys send and receive API frames on one characteristic.
	CharAPIV2 = "00010002-574f-4f20-5370-6865726f2121"
	// CharAntiDoS takes the unlock string before the API will answer.
	CharAntiDoS = "00020005-574f-4f20-5370-6865726f2121"

	// Classic Sphero characteristics.
	CharV1Response = "22bb746f-2ba6-7554-2d6f-726568705327"
	CharV1Command  = "22bb746f-2ba1-7554-2d6f-726568705327"
	CharV1AntiDoS  = "22bb746f-2bbd-7554-2d6f-726568705327"
	CharV1TXPower  = "22bb746f-2bb2-7554-2d6f-726568705327"
	CharV1Wake     = "22bb746f-2bbf-7554-2d6f-726568705327"
)

// Handshake writes performed after connecting, before any command.
var (
	AntiDoSV2 = []byte("usetheforce...band")
	AntiDoSV1 = []byte("011i3")
	TXPowerV1 = []byte{7}
	WakeV1    = []byte{1}
)
