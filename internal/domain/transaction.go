package domain

import (
	"time"
)

// TransactionLine is one raw point-of-sale line item as it arrives from an
// extract. Every field is untrusted text until the validator has seen it.
type TransactionLine struct {
	Mobile    string `json:"mobile"`
	InvoiceNo string `json:"invoiceNo"`
	StoreID   string `json:"storeId"`
	ItemName  string `json:"itemName"`
	Date      string `json:"date"`
	Amount    string `json:"amount"`

	// Source names the sheet, file or table that produced the line.
	Source string `json:"source,omitempty"`
}

// ValidatedLine is a TransactionLine that passed validation.
// CustomerKey is always a canonical 10-digit mobile number.
type ValidatedLine struct {
	CustomerKey string    `json:"customerKey"`
	InvoiceNo   string    `json:"invoiceNo"`
	StoreID     string    `json:"storeId"`
	ItemName    string    `json:"itemName"`
	Date        time.Time `json:"date"`
	Amount      float64   `json:"amount"`
	Source      string    `json:"source,omitempty"`
}

// Invoice aggregates every validated line sharing a customer key and an
// invoice number.
type Invoice struct {
	CustomerKey string    `json:"customerKey"`
	InvoiceNo   string    `json:"invoiceNo"`
	StoreID     string    `json:"storeId"`
	Date        time.Time `json:"date"`
	Total       float64   `json:"total"`
	Lines       int       `json:"lines"`
}

// Line renders the invoice as a single validated line. Aggregating the
// result again yields the same invoice.
func (i Invoice) Line() ValidatedLine {
	return ValidatedLine{
		CustomerKey: i.CustomerKey,
		InvoiceNo:   i.InvoiceNo,
		StoreID:     i.StoreID,
		Date:        i.Date,
		Amount:      i.Total,
	}
}

// InvoiceAnomaly records an invoice whose lines disagreed on the date.
// The earliest date wins; the anomaly is reported, never fatal.
type InvoiceAnomaly struct {
	CustomerKey string      `json:"customerKey"`
	InvoiceNo   string      `json:"invoiceNo"`
	Dates       []time.Time `json:"dates"`
	Resolved    time.Time   `json:"resolved"`
}

// RejectReason classifies why a raw line was dropped.
type RejectReason string

const (
	RejectMissingField    RejectReason = "missing_field"
	RejectMalformedAmount RejectReason = "malformed_amount"
	RejectNegativeAmount  RejectReason = "negative_amount"
	RejectInvalidCustomer RejectReason = "invalid_customer"
	RejectMalformedDate   RejectReason = "malformed_date"
	RejectOutOfWindow     RejectReason = "out_of_window"
	RejectDuplicate       RejectReason = "duplicate"
)

// RejectReasons lists every reason in reporting order.
func RejectReasons() []RejectReason {
	return []RejectReason{
		RejectMissingField,
		RejectMalformedAmount,
		RejectNegativeAmount,
		RejectInvalidCustomer,
		RejectMalformedDate,
		RejectOutOfWindow,
		RejectDuplicate,
	}
}

// RejectionSummary tallies validator outcomes.
type RejectionSummary struct {
	Total    int                  `json:"total"`
	Accepted int                  `json:"accepted"`
	ByReason map[RejectReason]int `json:"byReason"`
}

// Rejected returns the number of dropped rows.
func (s RejectionSummary) Rejected() int {
	n := 0
	for _, c := range s.ByReason {
		n += c
	}
	return n
}
