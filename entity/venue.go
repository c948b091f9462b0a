package entity

import "github.com/biter777/countries"

type Venue struct {
	Name    string `json:"name,omitempty" bson:"name"`
	City    string `json:"city,omitempty" bson:"city"`
	Country string `json:"country,omitempty" bson:"country"`
}

// CountryCode resolves the venue country to an ISO alpha-2 code, accepting
// either a code or a country name.
func (v *Venue) CountryCode() string {
	if v == nil || v.Country == "" {
		return ""
	}
	code := countries.ByName(v.Country).Alpha2()
	if len(code) == 2 {
		return code
	}
	return ""
}
