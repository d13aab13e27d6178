package services

import (
	"errors"
	"fmt"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order is not in a state that allows the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a concurrent update won the race.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrProductNotFound indicates a requested product is missing from the catalog.
	ErrProductNotFound = errors.New("order: product not found")
	// ErrPaymentSignatureMismatch indicates the checkout signature did not verify.
	ErrPaymentSignatureMismatch = errors.New("payment: signature mismatch")
	// ErrPaymentAmountMismatch indicates the gateway order amount differs from the order total.
	ErrPaymentAmountMismatch = errors.New("payment: amount mismatch")
	// ErrPaymentGateway indicates the gateway call failed.
	ErrPaymentGateway = errors.New("payment: gateway failure")
	// ErrCancellationWindowExpired indicates the customer cancellation window has passed.
	ErrCancellationWindowExpired = errors.New("order: cancellation window expired")
	// ErrDeliveryOTPInvalid indicates a wrong, expired or used delivery code.
	ErrDeliveryOTPInvalid = errors.New("order: invalid delivery otp")
	// ErrRefundStatusMismatch indicates the gateway disagrees with a requested refund status.
	ErrRefundStatusMismatch = errors.New("refund: status does not match gateway")
)

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func mapTransitionError(err error) error {
	if errors.Is(err, domain.ErrInvalidTransition) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// isServiceError reports whether err already carries one of the service sentinels.
func isServiceError(err error) bool {
	for _, target := range []error{
		ErrOrderInvalidInput, ErrOrderNotFound, ErrOrderInvalidState, ErrOrderConflict,
		ErrProductNotFound, ErrPaymentSignatureMismatch, ErrPaymentAmountMismatch,
		ErrPaymentGateway, ErrCancellationWindowExpired, ErrDeliveryOTPInvalid, ErrRefundStatusMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
