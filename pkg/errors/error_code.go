package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation and configuration errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidRule          ErrorCode = 102
	ErrCodeInvalidCondition     ErrorCode = 103
	ErrCodeUnknownField         ErrorCode = 104
	ErrCodeInvalidOrder         ErrorCode = 105
	ErrCodeInvalidRiskLimits    ErrorCode = 106
	ErrCodeMissingParameter     ErrorCode = 107

	// State and persistence errors (200-299)
	ErrCodeStateNotFound    ErrorCode = 200
	ErrCodeStateCorrupted   ErrorCode = 201
	ErrCodeQueryFailed      ErrorCode = 202
	ErrCodeStoreUnavailable ErrorCode = 203

	// Rule set errors (300-399)
	ErrCodeRuleSetNotLoaded   ErrorCode = 300
	ErrCodeRuleSchemaVersion  ErrorCode = 301
	ErrCodeRuleSetParseFailed ErrorCode = 302

	// Risk gate errors (400-499)
	ErrCodeRiskBlocked    ErrorCode = 400
	ErrCodeCycleThrottled ErrorCode = 401

	// Trading and execution errors (500-599)
	ErrCodeOrderFailed       ErrorCode = 500
	ErrCodeOrderTimeout      ErrorCode = 501
	ErrCodeBrokerUnavailable ErrorCode = 502
	ErrCodePositionNotFound  ErrorCode = 503

	// Proposal lifecycle errors (600-699)
	ErrCodeIllegalTransition ErrorCode = 600
	ErrCodeProposalNotFound  ErrorCode = 601
	ErrCodeProposalExpired   ErrorCode = 602

	// Market data errors (700-799)
	ErrCodeStaleData            ErrorCode = 700
	ErrCodeMockData             ErrorCode = 701
	ErrCodeSnapshotFetchFailed  ErrorCode = 702
	ErrCodeYieldFetchFailed     ErrorCode = 703
	ErrCodePortfolioFetchFailed ErrorCode = 704
	ErrCodeQuoteFetchFailed     ErrorCode = 705

	// Notification errors (800-899)
	ErrCodeNotifyFailed ErrorCode = 800
)
