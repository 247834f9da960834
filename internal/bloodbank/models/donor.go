package models

import (
	"slices"

	id "bloodlink/pkg/domain"
	dErrors "bloodlink/pkg/domain-errors"
)

// Donor pledges pints to hospitals and patients. Beneficiaries mixes both
// kinds since they share one id space; duplicates mean repeat pledges.
type Donor struct {
	ID            id.ID      `json:"id"`
	Name          string     `json:"name"`
	Credential    string     `json:"credential"`
	BloodGroup    BloodGroup `json:"blood_group"`
	Beneficiaries []id.ID    `json:"beneficiaries"`
}

func NewDonor(donorID id.ID, name string, group BloodGroup, sealedCredential string) (*Donor, error) {
	if len([]rune(name)) < MinNameLength {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "donor name must be at least 3 characters")
	}
	if !group.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "unknown blood group")
	}
	if sealedCredential == "" {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "donor credential cannot be empty")
	}
	return &Donor{
		ID:            donorID,
		Name:          name,
		Credential:    sealedCredential,
		BloodGroup:    group,
		Beneficiaries: []id.ID{},
	}, nil
}

// AddBeneficiary records one pledge to recipientID.
func (d *Donor) AddBeneficiary(recipientID id.ID) {
	d.Beneficiaries = append(d.Beneficiaries, recipientID)
}

func (d *Donor) Redacted() *Donor {
	out := *d
	out.Credential = CredentialMask
	out.Beneficiaries = slices.Clone(d.Beneficiaries)
	if out.Beneficiaries == nil {
		out.Beneficiaries = []id.ID{}
	}
	return &out
}
