package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	// General validation
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidFormat   Code = "INVALID_FORMAT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// External service errors
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodeDatabaseError        Code = "DATABASE_ERROR"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Swap and proposal error codes
const (
	CodeSwapNotFound          Code = "SWAP_NOT_FOUND"
	CodeSwapNotAvailable      Code = "SWAP_NOT_AVAILABLE"
	CodeProposalNotFound      Code = "PROPOSAL_NOT_FOUND"
	CodeInvalidProposalStatus Code = "INVALID_PROPOSAL_STATUS"
	CodeProposalAlreadyExists Code = "PROPOSAL_ALREADY_EXISTS"
	CodeCircularProposal      Code = "CIRCULAR_PROPOSAL"
	CodeCannotProposeOwnSwap  Code = "CANNOT_PROPOSE_OWN_SWAP"
	CodeNotSwapOwner          Code = "NOT_SWAP_OWNER"
	CodeNotProposalParty      Code = "NOT_PROPOSAL_PARTY"
	CodeCashNotAccepted       Code = "CASH_NOT_ACCEPTED"
	CodeBookingNotAccepted    Code = "BOOKING_NOT_ACCEPTED"
	CodeCashOfferTooLow       Code = "CASH_OFFER_TOO_LOW"
	CodeProposalTypeForbidden Code = "PROPOSAL_TYPE_NOT_ALLOWED"
	CodeSwapExpired           Code = "SWAP_EXPIRED"

	// Booking lifecycle
	CodeBookingNotFound   Code = "BOOKING_NOT_FOUND"
	CodeBookingLockFailed Code = "BOOKING_LOCK_FAILED"
	CodeLockUnavailable   Code = "LOCK_UNAVAILABLE"

	// Auction
	CodeAuctionNotFound         Code = "AUCTION_NOT_FOUND"
	CodeAuctionAlreadyExists    Code = "AUCTION_ALREADY_EXISTS"
	CodeAuctionTooCloseToEvent  Code = "AUCTION_TOO_CLOSE_TO_EVENT"
	CodeInvalidAuctionEndDate   Code = "INVALID_AUCTION_END_DATE"
	CodeAuctionNotActive        Code = "AUCTION_NOT_ACTIVE"
	CodeAuctionNotEnded         Code = "AUCTION_NOT_ENDED"
	CodeAuctionProposalNotFound Code = "AUCTION_PROPOSAL_NOT_FOUND"
)

// Payment and escrow error codes
const (
	CodePaymentProcessingFailed Code = "PAYMENT_PROCESSING_FAILED"
	CodeInsufficientFunds       Code = "INSUFFICIENT_FUNDS"
	CodePaymentMethodInvalid    Code = "PAYMENT_METHOD_INVALID"
	CodeAmountOutOfRange        Code = "AMOUNT_OUT_OF_RANGE"
	CodeUnsupportedCurrency     Code = "UNSUPPORTED_CURRENCY"
	CodeCurrencyMismatch        Code = "CURRENCY_MISMATCH"
	CodeFraudSuspected          Code = "FRAUD_SUSPECTED"
	CodeEscrowNotFound          Code = "ESCROW_NOT_FOUND"
	CodeInvalidEscrowStatus     Code = "INVALID_ESCROW_STATUS"
	CodeGatewayError            Code = "GATEWAY_ERROR"
)

// Ledger error codes
const (
	CodeLedgerRecordingFailed Code = "LEDGER_RECORDING_FAILED"
	CodeLedgerTransient       Code = "LEDGER_TRANSIENT_ERROR"
	CodeLedgerRejected        Code = "LEDGER_REJECTED"
	CodeEthereumConnection    Code = "ETHEREUM_CONNECTION_FAILED"
	CodeEthereumRPCError      Code = "ETHEREUM_RPC_ERROR"

	// Circuit breaker errors
	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)
