package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "
	CtrlZ  = "\x1a"
	Escape = "\x1b"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg         = "+CMTI:"
	UrcMessageReport  = "+CDSI:"
	UrcSignalStrength = "+CSQ:"
	UrcRing           = "RING"
	UrcCallBegin      = "VOICE CALL: BEGIN"
	UrcCallEnd        = "VOICE CALL: END"
	UrcCallIndicator  = `+CIEV: "CALL",`

	// Common Commands
	CmdAt            = "AT"
	CmdEchoOff       = "ATE0"
	CmdVerboseErrors = "AT+CMEE=2"
	CmdSetTextMode   = "AT+CMGF=1"
	CmdTextParams    = "AT+CSMP=17,167,0,0"
	CmdUCS2Params    = "AT+CSMP=17,167,0,8"
	CmdCharsetGSM    = `AT+CSCS="GSM"`
	CmdCharsetUCS2   = `AT+CSCS="UCS2"`
	CmdNotifyNewMsg  = "AT+CNMI=2,1,0,0,0"
	CmdSimStatus     = "AT+CPIN?"
	CmdHangup        = "AT+CHUP"
	CmdHangupLegacy  = "ATH"
	CmdReset         = "AT+CRESET"

	// SIM states reported by AT+CPIN?
	SimReady = "READY"
	SimPin   = "SIM PIN"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // SMS input prompt
)
