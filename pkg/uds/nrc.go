package uds

import "fmt"

// Negative response codes
const (
	NRCGeneralReject                          = 0x10
	NRCServiceNotSupported                    = 0x11
	NRCSubFunctionNotSupported                = 0x12
	NRCIncorrectMessageLength                 = 0x13
	NRCResponseTooLong                        = 0x14
	NRCBusyRepeatRequest                      = 0x21
	NRCConditionsNotCorrect                   = 0x22
	NRCRequestSequenceError                   = 0x24
	NRCRequestOutOfRange                      = 0x31
	NRCSecurityAccessDenied                   = 0x33
	NRCInvalidKey                             = 0x35
	NRCExceededNumberOfAttempts               = 0x36
	NRCRequiredTimeDelayNotExpired            = 0x37
	NRCUploadDownloadNotAccepted              = 0x70
	NRCTransferDataSuspended                  = 0x71
	NRCGeneralProgrammingFailure              = 0x72
	NRCWrongBlockSequenceCounter              = 0x73
	NRCResponsePending                        = 0x78
	NRCSubFunctionNotSupportedInActiveSession = 0x7E
	NRCServiceNotSupportedInActiveSession     = 0x7F
)

// TranslateNRC returns the description of a negative response code. Codes
// outside the table get a generated description.
func TranslateNRC(nrc byte) string {
	if s, ok := describeNRC(nrc); ok {
		return s
	}
	return fmt.Sprintf("Unknown code: 0x%02X", nrc)
}

func describeNRC(nrc byte) (string, bool) {
	switch nrc {
	case NRCGeneralReject:
		return "General Reject", true
	case NRCServiceNotSupported:
		return "Service Not Supported", true
	case NRCSubFunctionNotSupported:
		return "Sub-Function Not Supported", true
	case NRCIncorrectMessageLength:
		return "Incorrect Message Length or Invalid Format", true
	case NRCResponseTooLong:
		return "Response Too Long", true
	case NRCBusyRepeatRequest:
		return "Busy Repeat Request", true
	case NRCConditionsNotCorrect:
		return "Conditions Not Correct", true
	case NRCRequestSequenceError:
		return "Request Sequence Error", true
	case NRCRequestOutOfRange:
		return "Request Out Of Range", true
	case NRCSecurityAccessDenied:
		return "Security Access Denied", true
	case NRCInvalidKey:
		return "Invalid Key", true
	case NRCExceededNumberOfAttempts:
		return "Exceeded Number of Attempts", true
	case NRCRequiredTimeDelayNotExpired:
		return "Required Time Delay Not Expired", true
	case NRCUploadDownloadNotAccepted:
		return "Upload/Download Not Accepted", true
	case NRCTransferDataSuspended:
		return "Transfer Data Suspended", true
	case NRCGeneralProgrammingFailure:
		return "General Programming Failure", true
	case NRCWrongBlockSequenceCounter:
		return "Wrong Block Sequence Counter", true
	case NRCResponsePending:
		return "Response Pending", true
	case NRCSubFunctionNotSupportedInActiveSession:
		return "Sub-function Not Supported In Active Session", true
	case NRCServiceNotSupportedInActiveSession:
		return "Service Not Supported In Active Session", true
	}
	return "", false
}

// TranslateServiceID names a service identifier, request or positive
// response form.
func TranslateServiceID(sid byte) string {
	if sid != NegativeResponse && sid >= 0x40 && sid&0x40 != 0 {
		if name := TranslateServiceID(sid &^ 0x40); name != "Unknown" {
			return name + " response"
		}
	}
	switch sid {
	case SIDDiagnosticSessionControl:
		return "DiagnosticSessionControl"
	case SIDECUReset:
		return "ECUReset"
	case SIDReadDataByIdentifier:
		return "ReadDataByIdentifier"
	case SIDReadMemoryByAddress:
		return "ReadMemoryByAddress"
	case SIDSecurityAccess:
		return "SecurityAccess"
	case SIDRoutineControl:
		return "RoutineControl"
	case SIDTesterPresent:
		return "TesterPresent"
	case NegativeResponse:
		return "NegativeResponse"
	default:
		return "Unknown"
	}
}
