package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Config errors (100-199)
	ErrCodeInvalidConfiguration ErrorCode = 100
	ErrCodeInvalidSchema        ErrorCode = 101
	ErrCodeUnknownPhase         ErrorCode = 102
	ErrCodeUnknownVariable      ErrorCode = 103
	ErrCodeUnknownIndicatorRef  ErrorCode = 104
	ErrCodeInvalidAction        ErrorCode = 105
	ErrCodeInvalidEffect        ErrorCode = 106
	ErrCodeInvalidExpression    ErrorCode = 107
	ErrCodeInvalidTimeframe     ErrorCode = 108
	ErrCodeInvalidVersion       ErrorCode = 109
	ErrCodeVersionMismatch      ErrorCode = 110
	ErrCodeMissingParameter     ErrorCode = 111
	ErrCodeInvalidParameter     ErrorCode = 112
	ErrCodeInvalidType          ErrorCode = 113
	ErrCodeInvalidPeriod        ErrorCode = 114

	// Expression errors (200-299)
	ErrCodeExpressionParse     ErrorCode = 200
	ErrCodeDisallowedSyntax    ErrorCode = 201
	ErrCodeUnresolvedReference ErrorCode = 202
	ErrCodeDivisionByZero      ErrorCode = 203

	// Engine errors (300-399)
	ErrCodeInstanceNotFound      ErrorCode = 300
	ErrCodeInstanceAlreadyActive ErrorCode = 301
	ErrCodeInvariantViolation    ErrorCode = 302
	ErrCodePositionAlreadyOpen   ErrorCode = 303
	ErrCodeNoOpenPosition        ErrorCode = 304

	// Indicator errors (400-499)
	ErrCodeIndicatorNotFound      ErrorCode = 400
	ErrCodeIndicatorAlreadyExists ErrorCode = 401
	ErrCodeIndicatorCalculation   ErrorCode = 402
	ErrCodeInsufficientData       ErrorCode = 403

	// Execution errors (500-599)
	ErrCodeInvalidTradeIntent ErrorCode = 500
	ErrCodeOrderFailed        ErrorCode = 501
	ErrCodeTicketNotFound     ErrorCode = 502

	// Store errors (600-699)
	ErrCodeStoreUnavailable  ErrorCode = 600
	ErrCodeSnapshotNotFound  ErrorCode = 601
	ErrCodeSnapshotWrite     ErrorCode = 602
	ErrCodeSnapshotCorrupted ErrorCode = 603

	// Market data errors (700-799)
	ErrCodeDataSourceUnavailable ErrorCode = 700
	ErrCodeQueryFailed           ErrorCode = 701
	ErrCodeFeedClosed            ErrorCode = 702
	ErrCodeFrameParseFailed      ErrorCode = 703
)
