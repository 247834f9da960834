package models

import "strings"

// BloodGroup is an ABO group with its Rh factor, e.g. "O+".
type BloodGroup string

const (
	BloodGroupAPos  BloodGroup = "A+"
	BloodGroupANeg  BloodGroup = "A-"
	BloodGroupBPos  BloodGroup = "B+"
	BloodGroupBNeg  BloodGroup = "B-"
	BloodGroupABPos BloodGroup = "AB+"
	BloodGroupABNeg BloodGroup = "AB-"
	BloodGroupOPos  BloodGroup = "O+"
	BloodGroupONeg  BloodGroup = "O-"
)

// BloodGroups lists every accepted group.
var BloodGroups = []string{
	string(BloodGroupAPos), string(BloodGroupANeg),
	string(BloodGroupBPos), string(BloodGroupBNeg),
	string(BloodGroupABPos), string(BloodGroupABNeg),
	string(BloodGroupOPos), string(BloodGroupONeg),
}

func (g BloodGroup) IsValid() bool {
	switch g {
	case BloodGroupAPos, BloodGroupANeg, BloodGroupBPos, BloodGroupBNeg,
		BloodGroupABPos, BloodGroupABNeg, BloodGroupOPos, BloodGroupONeg:
		return true
	}
	return false
}

// NormalizeBloodGroup upper-cases and strips spaces so "ab +" reads as "AB+".
func NormalizeBloodGroup(s string) BloodGroup {
	return BloodGroup(strings.ToUpper(strings.ReplaceAll(s, " ", "")))
}
