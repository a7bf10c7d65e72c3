package domain

// Collections (must match migration 000001)
const (
	CollectionRequests = "transferRequests"
	CollectionComments = "comments"

	// ChangeChannel is the Postgres NOTIFY channel every document write publishes on.
	ChangeChannel = "board_changes"

	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"

	ProviderPhone     = "phone"
	ProviderFederated = "federated"

	AnonymousName = "Anonymous"

	MaxCommentLength = 1000
)

// Supported request currencies.
const (
	CurrencyINR = "INR"
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
	CurrencyGBP = "GBP"
	CurrencyAFN = "AFN"
)

var currencies = map[string]struct{}{
	CurrencyINR: {},
	CurrencyUSD: {},
	CurrencyEUR: {},
	CurrencyGBP: {},
	CurrencyAFN: {},
}

// IsSupportedCurrency reports whether code is one of the board currencies.
func IsSupportedCurrency(code string) bool {
	_, ok := currencies[code]
	return ok
}

// Currencies returns the supported currency codes in display order.
func Currencies() []string {
	return []string{CurrencyINR, CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyAFN}
}
