package main

import (
	"fmt"

	"github.com/dpup/obsidian/domain"
)

// parseProfile maps --profile key=value pairs, keyed by claim type, onto a
// user profile.
func parseProfile(fields map[string]string) (domain.Profile, error) {
	var p domain.Profile
	for k, v := range fields {
		switch k {
		case domain.ClaimGivenName:
			p.GivenName = v
		case domain.ClaimFamilyName:
			p.FamilyName = v
		case domain.ClaimNickname:
			p.Nickname = v
		case domain.ClaimEmail:
			p.Email = v
		case domain.ClaimGender:
			p.Gender = v
		case domain.ClaimBirthdate:
			p.Birthdate = v
		default:
			return p, fmt.Errorf("unknown profile field %q", k)
		}
	}
	return p, nil
}
