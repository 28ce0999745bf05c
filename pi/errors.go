package pi

import "fmt"

// gcs2Errors holds the error codes an E-873 reports over its ASCII
// interface.  Codes of the scanning, macro and wave generator commands are
// left out; they print as unknown.
var gcs2Errors = map[int]string{
	1:   "Parameter syntax error",
	2:   "Unknown command",
	3:   "Command length out of limits or command buffer overrun",
	5:   "Unallowable move attempted on unreferenced axis, or move attempted with servo off",
	7:   "Position out of limits",
	8:   "Velocity out of limits",
	10:  "Controller was stopped by command",
	15:  "Invalid axis identifier",
	17:  "Parameter out of range",
	22:  "Axis identifier specified more than once",
	23:  "Illegal axis",
	24:  "Incorrect number of parameters",
	25:  "Invalid floating point number",
	26:  "Parameter missing",
	27:  "Soft limit out of range",
	31:  "Axis has no reference sensor",
	32:  "Axis has no limit switch",
	34:  "Command not allowed for selected stage(s)",
	40:  "No joystick configured",
	45:  "Referencing failed",
	49:  "Move to limit switch failed",
	50:  "Attempt to reference axis with referencing disabled",
	51:  "Selected axis is controlled by joystick",
	52:  "Controller detected communication error",
	53:  "MOV! motion still in progress",
	54:  "Unknown parameter",
	60:  "Protected Param: current Command Level (CCL) too low",
	63:  "Initialization still in progress",
	64:  "Parameter is read-only",
	200: "No stage connected to axis",
	205: "SMO with servo on",
	214: "Position calculations failed",
	215: "The connection between controller and stage may be broken",
	216: "The connected stage has driven into a limit switch, call CLR to resume operation",
	301: "Send buffer overflow",
	304: "Received command is too long",
	305: "Error while reading/writing EEPROM",
	307: "Timeout while receiving command",
	308: "A lengthy operation has not finished in the expected time",
	333: "Internal hardware error",
	601: "Not enough memory",
	602: "Hardware voltage error",
	603: "Hardware temperature out of range",
}

// codes of moves the controller refused or cut short
var motionCodes = map[int]bool{5: true, 7: true, 8: true, 10: true, 27: true, 49: true, 51: true, 53: true, 215: true, 216: true}

// GCS2Status is a nonzero error code read from a PI controller with ERR?
type GCS2Status struct {
	code int
}

// GCS2Err converts an error code to an error, nil for code 0
func GCS2Err(code int) error {
	if code == 0 {
		return nil
	}
	return GCS2Status{code}
}

func (e GCS2Status) Error() string {
	s, ok := gcs2Errors[e.code]
	if !ok {
		s = "unknown code"
	}
	return fmt.Sprintf("GCS2 error %d: %s", e.code, s)
}

// Code returns the numeric GCS2 error code
func (e GCS2Status) Code() int {
	return e.code
}

// Motion is true for errors raised by a move the controller refused or
// stopped, as opposed to a malformed command
func (e GCS2Status) Motion() bool {
	return motionCodes[e.code]
}
