package atmodem

// DefaultBaudRate is the factory UART speed of RUI3 modules.
const DefaultBaudRate = 115200

// maxPayloadSize is the largest application payload AT+SEND accepts.
const maxPayloadSize = 242

// Final responses.
const (
	respOK = "OK"

	respError         = "AT_ERROR"
	respParamError    = "AT_PARAM_ERROR"
	respBusyError     = "AT_BUSY_ERROR"
	respOverflow      = "AT_TEST_PARAM_OVERFLOW"
	respNotJoined     = "AT_NO_NETWORK_JOINED"
	respRXError       = "AT_RX_ERROR"
	respDutyCycle     = "AT_DUTYCYCLE_RESTRICTED"
	respCommandNotFnd = "AT_COMMAND_NOT_FOUND"
)

// Asynchronous events.
const (
	eventPrefix = "+EVT:"

	evtTxDone  = "TX_DONE"
	evtRX1     = "RX_1"
	evtRX2     = "RX_2"
	evtSendErr = "SEND_CONFIRMED_FAILED"
)

// Negative SendReceive results.
const (
	CodeUnknown         = -1  // unrecognised response
	CodeTimeout         = -2  // no final response or TX_DONE in time
	CodeError           = -3  // AT_ERROR
	CodeParamError      = -4  // AT_PARAM_ERROR
	CodeBusy            = -5  // AT_BUSY_ERROR
	CodeOverflow        = -6  // AT_TEST_PARAM_OVERFLOW
	CodeNotJoined       = -7  // AT_NO_NETWORK_JOINED
	CodeRXError         = -8  // AT_RX_ERROR
	CodeDutyCycle       = -9  // AT_DUTYCYCLE_RESTRICTED
	CodeIO              = -10 // serial port failure
	CodePayloadTooLarge = -11 // payload above the region limit
	CodeNotFound        = -12 // AT_COMMAND_NOT_FOUND
	CodeClosed          = -13 // modem closed
)

var responseCodes = map[string]int{
	respError:         CodeError,
	respParamError:    CodeParamError,
	respBusyError:     CodeBusy,
	respOverflow:      CodeOverflow,
	respNotJoined:     CodeNotJoined,
	respRXError:       CodeRXError,
	respDutyCycle:     CodeDutyCycle,
	respCommandNotFnd: CodeNotFound,
}
