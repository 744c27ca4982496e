package apperror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/fd1az/swapengine/internal/apperror"
)

func TestNew_DefaultsFromCode(t *testing.T) {
	err := apperror.New(apperror.CodeProposalAlreadyExists,
		apperror.WithDetail("proposalId", "p-1"))

	if err.Category != apperror.CategoryConflict {
		t.Errorf("category = %s, want conflict", err.Category)
	}
	if err.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", err.StatusCode)
	}
	if err.Suggestion != "view existing proposal" {
		t.Errorf("suggestion = %q", err.Suggestion)
	}
	if err.Details["proposalId"] != "p-1" {
		t.Errorf("details = %v", err.Details)
	}
}

func TestCategories(t *testing.T) {
	tests := []struct {
		code      apperror.Code
		want      apperror.Category
		retryable bool
	}{
		{apperror.CodeCashNotAccepted, apperror.CategoryValidation, false},
		{apperror.CodeInvalidProposalStatus, apperror.CategoryConflict, false},
		{apperror.CodeNotSwapOwner, apperror.CategoryAuthorization, false},
		{apperror.CodeAuctionTooCloseToEvent, apperror.CategoryTiming, false},
		{apperror.CodeLedgerRecordingFailed, apperror.CategoryTransient, true},
		{apperror.CodeFraudSuspected, apperror.CategoryFraud, false},
		{apperror.Code("SOMETHING_NEW"), apperror.CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := apperror.New(tt.code)
			if err.Category != tt.want {
				t.Errorf("category = %s, want %s", err.Category, tt.want)
			}
			if err.Retryable() != tt.retryable {
				t.Errorf("retryable = %v, want %v", err.Retryable(), tt.retryable)
			}
		})
	}
}

func TestWrapAndExtract(t *testing.T) {
	base := apperror.New(apperror.CodeSwapNotAvailable)
	wrapped := fmt.Errorf("accept: %w", base)

	if got := apperror.GetCode(wrapped); got != apperror.CodeSwapNotAvailable {
		t.Errorf("GetCode = %s", got)
	}
	if !errors.Is(wrapped, apperror.New(apperror.CodeSwapNotAvailable)) {
		t.Error("errors.Is should match on code")
	}
	if apperror.GetCode(errors.New("plain")) != apperror.CodeUnknownError {
		t.Error("plain errors should map to UNKNOWN_ERROR")
	}

	cause := errors.New("connection reset")
	w := apperror.Wrap(cause, apperror.CodeDatabaseError, "load swap")
	if !errors.Is(w, cause) {
		t.Error("Wrap should keep the cause")
	}
	if apperror.Wrap(nil, apperror.CodeDatabaseError, "") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestToResponse(t *testing.T) {
	err := apperror.New(apperror.CodeInvalidAuctionEndDate, apperror.WithContext("end date too late"))
	resp := err.ToResponse()

	body, ok := resp["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing error body: %v", resp)
	}
	if body["suggestion"] != "adjust auction end date" {
		t.Errorf("suggestion = %v", body["suggestion"])
	}
	if body["context"] != "end date too late" {
		t.Errorf("context = %v", body["context"])
	}
}
