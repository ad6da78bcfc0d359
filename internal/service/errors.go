package service

type ErrorCode string

const (
	// Authorization
	ErrorCodeNotLeader      ErrorCode = "NOT_LEADER"
	ErrorCodeNotAuthorized  ErrorCode = "NOT_AUTHORIZED"
	ErrorCodeNotATeamMember ErrorCode = "NOT_A_TEAM_MEMBER"

	// State conflict
	ErrorCodeAlreadyMember     ErrorCode = "ALREADY_MEMBER"
	ErrorCodeNotAMember        ErrorCode = "NOT_A_MEMBER"
	ErrorCodeTeamFull          ErrorCode = "TEAM_FULL"
	ErrorCodeDuplicateTeamName ErrorCode = "DUPLICATE_TEAM_NAME"
	ErrorCodeDuplicatePending  ErrorCode = "DUPLICATE_PENDING"
	ErrorCodeAlreadyResolved   ErrorCode = "ALREADY_RESOLVED"
	ErrorCodeAlreadyLocked     ErrorCode = "ALREADY_LOCKED"
	ErrorCodeActivePollExists  ErrorCode = "ACTIVE_POLL_EXISTS"
	ErrorCodePollNotActive     ErrorCode = "POLL_NOT_ACTIVE"
	ErrorCodeAlreadySubmitted  ErrorCode = "ALREADY_SUBMITTED"
	ErrorCodeNoSelection       ErrorCode = "NO_SELECTION"
	ErrorCodeCreationDisabled  ErrorCode = "TEAM_CREATION_DISABLED"

	// Validation
	ErrorCodeInvalidName     ErrorCode = "INVALID_NAME"
	ErrorCodeInvalidOption   ErrorCode = "INVALID_OPTION"
	ErrorCodeInvalidDuration ErrorCode = "INVALID_DURATION"
	ErrorCodeInvalidBody     ErrorCode = "INVALID_BODY"

	// Window / timing
	ErrorCodeOutsideWindow ErrorCode = "OUTSIDE_WINDOW"

	ErrorCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrorCodeUnspecified ErrorCode = "UNSPECIFIED"
)

type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func (e *Error) Error() string {
	return e.Message
}
