package domain

import (
	"strconv"
	"time"
)

// CustomerMetrics holds the raw RFM metrics of one customer.
type CustomerMetrics struct {
	CustomerKey  string    `json:"customerKey"`
	Recency      int       `json:"recency"`   // days since last invoice
	Frequency    int       `json:"frequency"` // distinct invoices
	Monetary     float64   `json:"monetary"`  // sum of invoice totals
	LastPurchase time.Time `json:"lastPurchase"`
}

// CustomerScore holds the ordinal R, F and M scores of one customer.
type CustomerScore struct {
	CustomerKey string `json:"customerKey"`
	R           int    `json:"r"`
	F           int    `json:"f"`
	M           int    `json:"m"`
}

// Code renders the composite score, e.g. "541". Scores are single digits
// since quantile_count is at most MaxQuantileCount.
func (s CustomerScore) Code() string {
	return strconv.Itoa(s.R) + strconv.Itoa(s.F) + strconv.Itoa(s.M)
}
