package domain

import (
	"sort"
	"strings"
)

// Country is an entry of the static country reference table.
type Country struct {
	Code string `json:"code"` // ISO 3166-1 alpha-2
	Name string `json:"name"`
}

var countryTable = []Country{
	{"AE", "United Arab Emirates"},
	{"AF", "Afghanistan"},
	{"AR", "Argentina"},
	{"AT", "Austria"},
	{"AU", "Australia"},
	{"BD", "Bangladesh"},
	{"BE", "Belgium"},
	{"BH", "Bahrain"},
	{"BR", "Brazil"},
	{"CA", "Canada"},
	{"CH", "Switzerland"},
	{"CN", "China"},
	{"CO", "Colombia"},
	{"DE", "Germany"},
	{"DK", "Denmark"},
	{"EG", "Egypt"},
	{"ES", "Spain"},
	{"FI", "Finland"},
	{"FR", "France"},
	{"GB", "United Kingdom"},
	{"GH", "Ghana"},
	{"GR", "Greece"},
	{"HK", "Hong Kong"},
	{"ID", "Indonesia"},
	{"IE", "Ireland"},
	{"IN", "India"},
	{"IR", "Iran"},
	{"IT", "Italy"},
	{"JP", "Japan"},
	{"KE", "Kenya"},
	{"KR", "South Korea"},
	{"KW", "Kuwait"},
	{"LK", "Sri Lanka"},
	{"MX", "Mexico"},
	{"MY", "Malaysia"},
	{"NG", "Nigeria"},
	{"NL", "Netherlands"},
	{"NO", "Norway"},
	{"NP", "Nepal"},
	{"NZ", "New Zealand"},
	{"OM", "Oman"},
	{"PH", "Philippines"},
	{"PK", "Pakistan"},
	{"PL", "Poland"},
	{"PT", "Portugal"},
	{"QA", "Qatar"},
	{"RU", "Russia"},
	{"SA", "Saudi Arabia"},
	{"SE", "Sweden"},
	{"SG", "Singapore"},
	{"TH", "Thailand"},
	{"TJ", "Tajikistan"},
	{"TR", "Turkey"},
	{"UA", "Ukraine"},
	{"US", "United States"},
	{"UZ", "Uzbekistan"},
	{"VN", "Vietnam"},
	{"ZA", "South Africa"},
}

var countryIndex = func() map[string]Country {
	idx := make(map[string]Country, len(countryTable))
	for _, c := range countryTable {
		idx[c.Code] = c
	}
	return idx
}()

// LookupCountry returns the table entry for an alpha-2 code.
func LookupCountry(code string) (Country, bool) {
	c, ok := countryIndex[strings.ToUpper(code)]
	return c, ok
}

// SearchCountries matches query case-insensitively against code and name
// substrings. An empty query returns the whole table. Results are sorted by name.
func SearchCountries(query string) []Country {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]Country, 0, len(countryTable))
	for _, c := range countryTable {
		if q == "" ||
			strings.Contains(strings.ToLower(c.Code), q) ||
			strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
