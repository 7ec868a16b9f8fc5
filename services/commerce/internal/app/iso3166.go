package app

import "strings"

// iso3166Alpha2 is the assigned ISO 3166-1 alpha-2 country code set.
var iso3166Alpha2 = func() map[string]bool {
	codes := strings.Fields(`
AD AE AF AG AI AL AM AO AQ AR AS AT AU AW AX AZ
BA BB BD BE BF BG BH BI BJ BL BM BN BO BQ BR BS BT BV BW BY BZ
CA CC CD CF CG CH CI CK CL CM CN CO CR CU CV CW CX CY CZ
DE DJ DK DM DO DZ EC EE EG EH ER ES ET
FI FJ FK FM FO FR GA GB GD GE GF GG GH GI GL GM GN GP GQ GR GS GT GU GW GY
HK HM HN HR HT HU ID IE IL IM IN IO IQ IR IS IT
JE JM JO JP KE KG KH KI KM KN KP KR KW KY KZ
LA LB LC LI LK LR LS LT LU LV LY
MA MC MD ME MF MG MH MK ML MM MN MO MP MQ MR MS MT MU MV MW MX MY MZ
NA NC NE NF NG NI NL NO NP NR NU NZ OM
PA PE PF PG PH PK PL PM PN PR PS PT PW PY QA
RE RO RS RU RW SA SB SC SD SE SG SH SI SJ SK SL SM SN SO SR SS ST SV SX SY SZ
TC TD TF TG TH TJ TK TL TM TN TO TR TT TV TW TZ
UA UG UM US UY UZ VA VC VE VG VI VN VU WF WS YE YT ZA ZM ZW`)
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}()

// ValidCountryCode reports whether code is an assigned ISO 3166-1 alpha-2
// country code.
func ValidCountryCode(code string) bool {
	return iso3166Alpha2[strings.ToUpper(strings.TrimSpace(code))]
}

// Flat shipping bands for textual books, by destination.
const (
	shippingBandDomesticCents = 599
	shippingBandEuropeCents   = 899
	shippingBandWorldCents    = 1499
)

var europeanCountries = func() map[string]bool {
	codes := strings.Fields(`
AD AL AT AX BA BE BG BY CH CY CZ DE DK EE ES FI FO FR GB GG GI GR HR HU
IE IM IS IT JE LI LT LU LV MC MD ME MK MT NL NO PL PT RO RS SE SI SJ SK SM UA VA`)
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}()

// ShippingBandCents returns the flat shipping charge for a textual book
// shipped to the given country.
func ShippingBandCents(countryCode string) int64 {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	switch {
	case code == "US" || code == "CA":
		return shippingBandDomesticCents
	case europeanCountries[code]:
		return shippingBandEuropeCents
	default:
		return shippingBandWorldCents
	}
}
