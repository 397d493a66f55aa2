package exchange

import (
	"context"
	"time"
)

// BaseCurrency is the currency every PrivatBank rate is quoted against.
const BaseCurrency = "UAH"

// DateLayout is the dd.mm.yyyy form used by the archive endpoint and in
// history output.
const DateLayout = "02.01.2006"

// Rate is one entry of the current cash rates (pubinfo). PrivatBank sends the
// prices as decimal strings; they are kept verbatim for display.
type Rate struct {
	Currency string `json:"ccy"`
	Base     string `json:"base_ccy"`
	Buy      string `json:"buy"`
	Sale     string `json:"sale"`
}

// DayRates is the archive response for one date.
type DayRates struct {
	Date         string           `json:"date"`
	Bank         string           `json:"bank"`
	BaseCurrency string           `json:"baseCurrencyLit"`
	Rates        []HistoricalRate `json:"exchangeRate"`
}

// HistoricalRate is one currency of an archive day. Commercial rates are
// missing for currencies the bank only has national-bank rates for.
type HistoricalRate struct {
	BaseCurrency   string   `json:"baseCurrency"`
	Currency       string   `json:"currency"`
	SaleRateNB     float64  `json:"saleRateNB"`
	PurchaseRateNB float64  `json:"purchaseRateNB"`
	SaleRate       *float64 `json:"saleRate,omitempty"`
	PurchaseRate   *float64 `json:"purchaseRate,omitempty"`
}

// RatesSource fetches exchange rates. *Client implements it against the
// PrivatBank API.
type RatesSource interface {
	CurrentRates(ctx context.Context) ([]Rate, error)
	RatesOn(ctx context.Context, date time.Time) (*DayRates, error)
}

// Find returns the current rate of currency against UAH.
func Find(rates []Rate, currency string) (Rate, bool) {
	for _, r := range rates {
		if r.Currency == currency && (r.Base == "" || r.Base == BaseCurrency) {
			return r, true
		}
	}
	return Rate{}, false
}

// Lookup returns the commercial purchase and sale rates of currency on that
// day. ok is false when either rate is missing.
func (d *DayRates) Lookup(currency string) (purchase, sale float64, ok bool) {
	if d == nil {
		return 0, 0, false
	}
	for _, r := range d.Rates {
		if r.Currency != currency {
			continue
		}
		if r.PurchaseRate == nil || r.SaleRate == nil {
			return 0, 0, false
		}
		return *r.PurchaseRate, *r.SaleRate, true
	}
	return 0, 0, false
}
