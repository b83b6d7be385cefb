package app

import (
	"errors"

	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/kamalraji/plan-it-together-sub016/internal/store"
)

var storeNotFound = []struct {
	err     error
	message string
}{
	{store.ErrPaymentNotFound, "payment not found"},
	{store.ErrEscrowNotFound, "escrow account not found"},
	{store.ErrMilestoneNotFound, "milestone not found"},
	{store.ErrPayoutNotFound, "payout not found"},
	{store.ErrVendorConfigNotFound, "vendor payout configuration not found"},
}

// translateStoreError gives storage sentinels their API error codes.
func translateStoreError(err error) error {
	if err == nil {
		return nil
	}
	for _, nf := range storeNotFound {
		if errors.Is(err, nf.err) {
			return domain.WrapError(domain.CodeNotFound, nf.message, err)
		}
	}
	if errors.Is(err, store.ErrDuplicateEscrow) {
		return domain.WrapError(domain.CodeDuplicateEscrow, "escrow already exists for booking", err)
	}
	return err
}

// isNotFound reports whether err is a storage or coded not-found error.
func isNotFound(err error) bool {
	for _, nf := range storeNotFound {
		if errors.Is(err, nf.err) {
			return true
		}
	}
	return errors.Is(err, domain.ErrNotFound)
}

// isPermanent reports whether retrying the operation that produced err cannot help.
func isPermanent(err error) bool {
	if isNotFound(err) {
		return true
	}
	var coded *domain.Error
	if !errors.As(err, &coded) {
		return false
	}
	switch coded.Code {
	case domain.CodeInternal, domain.CodeProcessorTimeout, domain.CodeRefundInProgress:
		return false
	}
	return true
}
