package apperror

// Category is the closed error taxonomy. Every Code belongs to exactly one.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryConflict      Category = "conflict"
	CategoryAuthorization Category = "authorization"
	CategoryTiming        Category = "timing"
	CategoryNotFound      Category = "not_found"
	CategoryTransient     Category = "transient"
	CategoryFraud         Category = "fraud"
	CategoryInternal      Category = "internal"
)

var categories = map[Code]Category{
	CodeRequiredField:         CategoryValidation,
	CodeInvalidInput:          CategoryValidation,
	CodeInvalidFormat:         CategoryValidation,
	CodeValidationError:       CategoryValidation,
	CodeCannotProposeOwnSwap:  CategoryValidation,
	CodeCashNotAccepted:       CategoryValidation,
	CodeBookingNotAccepted:    CategoryValidation,
	CodeCashOfferTooLow:       CategoryValidation,
	CodeProposalTypeForbidden: CategoryValidation,
	CodeAmountOutOfRange:      CategoryValidation,
	CodeUnsupportedCurrency:   CategoryValidation,
	CodeCurrencyMismatch:      CategoryValidation,
	CodePaymentMethodInvalid:  CategoryValidation,
	CodeInsufficientFunds:     CategoryValidation,

	CodeInvalidState:          CategoryConflict,
	CodeSwapNotAvailable:      CategoryConflict,
	CodeInvalidProposalStatus: CategoryConflict,
	CodeProposalAlreadyExists: CategoryConflict,
	CodeCircularProposal:      CategoryConflict,
	CodeAuctionAlreadyExists:  CategoryConflict,
	CodeInvalidEscrowStatus:   CategoryConflict,
	CodeBookingLockFailed:     CategoryConflict,
	CodeLockUnavailable:       CategoryConflict,
	CodeLedgerRejected:        CategoryConflict,

	CodeNotSwapOwner:     CategoryAuthorization,
	CodeNotProposalParty: CategoryAuthorization,

	CodeAuctionTooCloseToEvent: CategoryTiming,
	CodeInvalidAuctionEndDate:  CategoryTiming,
	CodeAuctionNotActive:       CategoryTiming,
	CodeAuctionNotEnded:        CategoryTiming,
	CodeSwapExpired:            CategoryTiming,

	CodeNotFound:                CategoryNotFound,
	CodeSwapNotFound:            CategoryNotFound,
	CodeProposalNotFound:        CategoryNotFound,
	CodeAuctionNotFound:         CategoryNotFound,
	CodeAuctionProposalNotFound: CategoryNotFound,
	CodeEscrowNotFound:          CategoryNotFound,
	CodeBookingNotFound:         CategoryNotFound,

	CodeExternalServiceError:    CategoryTransient,
	CodeServiceTimeout:          CategoryTransient,
	CodeServiceUnavailable:      CategoryTransient,
	CodeRateLimitExceeded:       CategoryTransient,
	CodeDatabaseError:           CategoryTransient,
	CodePaymentProcessingFailed: CategoryTransient,
	CodeGatewayError:            CategoryTransient,
	CodeLedgerRecordingFailed:   CategoryTransient,
	CodeLedgerTransient:         CategoryTransient,
	CodeEthereumConnection:      CategoryTransient,
	CodeEthereumRPCError:        CategoryTransient,
	CodeCircuitOpen:             CategoryTransient,

	CodeFraudSuspected: CategoryFraud,

	CodeConfigurationError: CategoryInternal,
	CodeInternalError:      CategoryInternal,
	CodeUnknownError:       CategoryInternal,
}

// CategoryOf returns the taxonomy category of a code.
func CategoryOf(code Code) Category {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

// Retryable reports whether errors in this category may be retried.
func (c Category) Retryable() bool {
	return c == CategoryTransient
}
