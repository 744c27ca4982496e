package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	// General validation
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidFormat:   "Invalid data format",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	// Configuration
	CodeConfigurationError: "Configuration error",

	// External service errors
	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",
	CodeDatabaseError:        "Database operation failed",

	// System errors
	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	// Swap and proposal
	CodeSwapNotFound:          "Swap not found",
	CodeSwapNotAvailable:      "Swap is no longer available",
	CodeProposalNotFound:      "Proposal not found",
	CodeInvalidProposalStatus: "Proposal is not in a state that allows this operation",
	CodeProposalAlreadyExists: "A pending proposal already exists between these swaps",
	CodeCircularProposal:      "Proposal would create a circular targeting chain",
	CodeCannotProposeOwnSwap:  "Cannot propose a swap against your own swap",
	CodeNotSwapOwner:          "You do not own this swap",
	CodeNotProposalParty:      "You are not allowed to act on this proposal",
	CodeCashNotAccepted:       "This swap does not accept cash offers",
	CodeBookingNotAccepted:    "This swap does not accept booking exchange offers",
	CodeCashOfferTooLow:       "Cash offer is below the minimum accepted amount",
	CodeProposalTypeForbidden: "Proposal type is not allowed for this auction",
	CodeSwapExpired:           "Swap has expired",

	// Booking lifecycle
	CodeBookingNotFound:   "Booking not found",
	CodeBookingLockFailed: "Failed to lock the underlying booking",
	CodeLockUnavailable:   "Resource is being modified by another operation",

	// Auction
	CodeAuctionNotFound:         "Auction not found",
	CodeAuctionAlreadyExists:    "Swap already has an auction",
	CodeAuctionTooCloseToEvent:  "Event is too close for auction mode",
	CodeInvalidAuctionEndDate:   "Auction end date is not allowed",
	CodeAuctionNotActive:        "Auction is not accepting proposals",
	CodeAuctionNotEnded:         "Auction has not ended yet",
	CodeAuctionProposalNotFound: "Proposal is not part of this auction",

	// Payment and escrow
	CodePaymentProcessingFailed: "Payment processing failed",
	CodeInsufficientFunds:       "Insufficient funds",
	CodePaymentMethodInvalid:    "Payment method is invalid or unverified",
	CodeAmountOutOfRange:        "Amount is outside the allowed range",
	CodeUnsupportedCurrency:     "Currency is not supported",
	CodeCurrencyMismatch:        "Offer currency does not match",
	CodeFraudSuspected:          "Transaction flagged as suspicious",
	CodeEscrowNotFound:          "Escrow account not found",
	CodeInvalidEscrowStatus:     "Escrow is not in a state that allows this operation",
	CodeGatewayError:            "Payment gateway error",

	// Ledger
	CodeLedgerRecordingFailed: "Failed to record event on the ledger",
	CodeLedgerTransient:       "Ledger temporarily unavailable",
	CodeLedgerRejected:        "Ledger rejected the event",
	CodeEthereumConnection:    "Failed to connect to Ethereum node",
	CodeEthereumRPCError:      "Ethereum RPC call failed",

	// Circuit breaker
	CodeCircuitOpen: "Circuit breaker is open",
}

// suggestions maps codes to the next action a caller can take.
var suggestions = map[Code]string{
	CodeProposalAlreadyExists:   "view existing proposal",
	CodeCircularProposal:        "withdraw the opposite proposal first",
	CodeSwapNotAvailable:        "browse other available swaps",
	CodeCashNotAccepted:         "offer a booking exchange instead",
	CodeBookingNotAccepted:      "make a cash offer instead",
	CodeCashOfferTooLow:         "increase the cash offer",
	CodeAuctionTooCloseToEvent:  "use first_match acceptance",
	CodeInvalidAuctionEndDate:   "adjust auction end date",
	CodeAuctionNotEnded:         "wait for the auction to end",
	CodeInsufficientFunds:       "use a different payment method",
	CodePaymentMethodInvalid:    "verify your payment method",
	CodeFraudSuspected:          "contact support",
	CodeLockUnavailable:         "retry shortly",
	CodeLedgerRecordingFailed:   "retry shortly",
	CodePaymentProcessingFailed: "retry shortly",
}
