package textutil

import (
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// FormatAmount renders a minor-unit amount as a localised display string,
// e.g. (125000, "INR") -> "₹1,250.00". Unknown currency codes fall back to
// the bare number so notification payloads never fail on bad data.
func FormatAmount(minor int64, currencyCode string) string {
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	printer := message.NewPrinter(language.English)

	unit, err := currency.ParseISO(code)
	if err != nil {
		return printer.Sprintf("%v", number.Decimal(float64(minor)/100))
	}

	scale, _ := currency.Cash.Rounding(unit)
	major := float64(minor)
	for i := 0; i < scale; i++ {
		major /= 10
	}
	return printer.Sprintf("%v", currency.Symbol(unit.Amount(major)))
}
