/*
correction.go - Reversal of previously recorded events

PURPOSE:
  Lets the shop fix typing mistakes by deleting an event, without ever
  breaking the balance invariant. The policy is per kind and deliberately
  incomplete:

    NEW_CREDIT (positive debt line, any status)  balance -= amount, delete line
    SALE                                          delete movement
    CASH_OUT                                      delete movement
    DEBT_PAYMENT, DEBT_SETTLEMENT_INCOME          refused

  A credit extension has exactly one paired balance effect, so undoing it is
  unambiguous. A payment movement does not say which debt line it should
  re-open (a freeform payment has none), so it is refused rather than
  guessed.

  The kind stored on the row is checked too: asking to delete movement 7 as
  a SALE fails if movement 7 is a DEBT_PAYMENT.
*/
package ledger

import "context"

// DeleteEvent reverses the event identified by id and kind.
func (e *Engine) DeleteEvent(ctx context.Context, id int64, kind Kind) error {
	const op = "delete event"
	switch kind {
	case KindNewCredit:
		return e.atomic(ctx, op, func(tx Tx) error {
			return reverseCreditExtension(ctx, tx, EntryID(id))
		})
	case KindSale, KindCashOut:
		return e.atomic(ctx, op, func(tx Tx) error {
			return deleteCashMovement(ctx, tx, MovementID(id), kind)
		})
	case KindDebtPayment, KindDebtSettlementIncome:
		return &UnsupportedCorrectionError{
			Kind:   kind,
			ID:     id,
			Reason: "payments cannot be reversed because the debt line to re-open is not recoverable",
		}
	default:
		return Validationf(op, "unknown event kind %q", kind)
	}
}

func reverseCreditExtension(ctx context.Context, tx Tx, id EntryID) error {
	entry, err := tx.GetDebtEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return NotFoundf("delete event", "debt item %d not found", id)
	}
	if !entry.IsCreditExtension() {
		return &UnsupportedCorrectionError{
			Kind:   KindNewCredit,
			ID:     int64(id),
			Reason: "debt-log entry is a payment, not a credit extension",
		}
	}
	customer, err := requireCustomer(ctx, tx, "delete event", entry.CustomerID)
	if err != nil {
		return err
	}
	if _, err := nextBalance("delete event", customer.Balance, -entry.Amount); err != nil {
		return err
	}
	if err := tx.UpdateCustomerBalance(ctx, entry.CustomerID, -entry.Amount); err != nil {
		return err
	}
	return tx.DeleteDebtEntry(ctx, id)
}

func deleteCashMovement(ctx context.Context, tx Tx, id MovementID, kind Kind) error {
	m, err := tx.GetMovement(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return NotFoundf("delete event", "movement %d not found", id)
	}
	if m.Kind != kind {
		if m.Kind != KindSale && m.Kind != KindCashOut {
			return &UnsupportedCorrectionError{
				Kind:   m.Kind,
				ID:     int64(id),
				Reason: "payment movements cannot be deleted",
			}
		}
		return Validationf("delete event", "movement %d is %s, not %s", id, m.Kind, kind)
	}
	return tx.DeleteMovement(ctx, id)
}
