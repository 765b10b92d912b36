package service

import (
	"time"

	"paper_ledger/internal/models"
	"paper_ledger/internal/valuation"
)

// DefaultAccount is the document a user gets on first access.
func DefaultAccount(balance float64, now time.Time) Fields {
	return Fields{
		FieldBalance:     balance,
		FieldEquity:      balance,
		FieldMargin:      0.0,
		FieldFreeMargin:  balance,
		FieldMarginLevel: 0.0,
		FieldFloatingPnL: 0.0,
		FieldCreatedAt:   now,
		FieldUpdatedAt:   now,
	}
}

// PositionDoc stamps the store-owned fields of a new position.
func PositionDoc(p *models.Position, userID, positionID string, now time.Time) (Fields, error) {
	doc, err := ToFields(p)
	if err != nil {
		return nil, err
	}
	doc[FieldPositionID] = positionID
	doc[FieldUserID] = userID
	doc[FieldClosed] = false
	doc[FieldCreatedAt] = now
	doc[FieldUpdatedAt] = now
	delete(doc, FieldClosePrice)
	delete(doc, FieldClosedAt)
	return doc, nil
}

// HistoryDoc stamps the store-owned fields of a history entry.
func HistoryDoc(h *models.HistoryEntry, userID, historyID string, now time.Time) (Fields, error) {
	doc, err := ToFields(h)
	if err != nil {
		return nil, err
	}
	doc[FieldHistoryID] = historyID
	doc[FieldUserID] = userID
	doc[FieldCreatedAt] = now
	return doc, nil
}

// CloseFields freezes a position at its close.
func CloseFields(s Settlement, now time.Time) Fields {
	return Fields{
		FieldClosed:     true,
		FieldClosePrice: s.ClosePrice,
		FieldProfitLoss: s.ProfitLoss,
		FieldClosedAt:   now,
		FieldUpdatedAt:  now,
	}
}

// ClosedEntry builds the history snapshot of a position closed with s.
func ClosedEntry(p *models.Position, userID, positionID string, s Settlement, now time.Time) *models.HistoryEntry {
	openTime := p.OpenTime
	if openTime.IsZero() {
		openTime = p.CreatedAt
	}
	return &models.HistoryEntry{
		UserID:     userID,
		PositionID: positionID,
		Symbol:     p.Symbol,
		OrderType:  p.OrderType,
		Volume:     p.Volume,
		OpenPrice:  p.OpenPrice,
		ClosePrice: s.ClosePrice,
		ProfitLoss: s.ProfitLoss,
		OpenTime:   openTime,
		CloseTime:  now,
	}
}

// SettleAccount books s on acct. remaining are the positions still open after
// the close; floating_pnl and equity are rebuilt from them, so the result does
// not depend on which refresh last touched the account.
func SettleAccount(acct *models.Account, remaining []*models.Position, s Settlement, now time.Time) Fields {
	balance := valuation.Round2(acct.Balance + s.ProfitLoss)
	margin := acct.Margin - s.MarginRelease
	if margin < 0 {
		margin = 0
	}
	equity := valuation.Equity(balance, remaining)

	return Fields{
		FieldBalance:     balance,
		FieldMargin:      margin,
		FieldFreeMargin:  balance - margin,
		FieldFloatingPnL: valuation.FloatingTotal(remaining),
		FieldEquity:      equity,
		FieldMarginLevel: valuation.MarginLevel(equity, margin),
		FieldUpdatedAt:   now,
	}
}
