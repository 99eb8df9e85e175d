package booking

import (
	"fmt"
	"sort"
	"strings"
)

// Country describes one platform deployment: where it lives, which dose
// motives are searched (in order) and which consent answers are forced.
type Country struct {
	Code         string
	Name         string
	PlatformURL  string
	Motives      []Motive
	FixedAnswers map[string]string
}

var countries = map[string]Country{
	"fr": {
		Code:        "fr",
		Name:        "France",
		PlatformURL: "https://www.doctolib.fr",
		Motives: []Motive{
			{Code: "pfizer_third", Label: "3rd dose Pfizer"},
			{Code: "moderna_third", Label: "3rd dose Moderna"},
		},
		FixedAnswers: map[string]string{"cov19": "Non"},
	},
	"de": {
		Code:        "de",
		Name:        "Germany",
		PlatformURL: "https://www.doctolib.de",
		Motives: []Motive{
			{Code: "pfizer_third", Label: "Auffrischungsimpfung Pfizer"},
			{Code: "moderna_third", Label: "Auffrischungsimpfung Moderna"},
		},
		FixedAnswers: map[string]string{"cov19": "Nein"},
	},
}

func LookupCountry(code string) (Country, error) {
	c, ok := countries[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return Country{}, fmt.Errorf("unknown country %q (want one of %s)", code, strings.Join(CountryCodes(), ", "))
	}
	return c, nil
}

func CountryCodes() []string {
	out := make([]string, 0, len(countries))
	for k := range countries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
