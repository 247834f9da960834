package models

import (
	"slices"

	id "bloodlink/pkg/domain"
	dErrors "bloodlink/pkg/domain-errors"
)

// Hospital is a recipient that donors visit in person.
//
// Invariants:
//   - Name and Address are at least MinNameLength characters
//   - Credential holds the sealed credential, never the plaintext
//   - DonorIDs grows by one entry per pledge and is never reordered
//   - Donations is a running total maintained outside the pledge flow;
//     pledging links a donor but leaves it unchanged
type Hospital struct {
	ID         id.ID   `json:"id"`
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	City       string  `json:"city"`
	Credential string  `json:"credential"`
	Donations  uint32  `json:"donations"`
	DonorIDs   []id.ID `json:"donors_ids"`
}

func NewHospital(hospitalID id.ID, name, address, city, sealedCredential string) (*Hospital, error) {
	if len([]rune(name)) < MinNameLength {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "hospital name must be at least 3 characters")
	}
	if len([]rune(address)) < MinNameLength {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "hospital address must be at least 3 characters")
	}
	if sealedCredential == "" {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "hospital credential cannot be empty")
	}
	return &Hospital{
		ID:         hospitalID,
		Name:       name,
		Address:    address,
		City:       city,
		Credential: sealedCredential,
		DonorIDs:   []id.ID{},
	}, nil
}

// Rename changes only the display name.
func (h *Hospital) Rename(name string) error {
	if len([]rune(name)) < MinNameLength {
		return dErrors.New(dErrors.CodeInvalidPayload, "hospital name must be at least 3 characters")
	}
	h.Name = name
	return nil
}

// AttachDonor records one pledge from donorID.
func (h *Hospital) AttachDonor(donorID id.ID) {
	h.DonorIDs = append(h.DonorIDs, donorID)
}

// Matches reports whether query occurs in the city or the name, ignoring case.
// query must already be lower case.
func (h *Hospital) Matches(query string) bool {
	return containsFold(h.City, query) || containsFold(h.Name, query)
}

// Redacted returns a copy safe to hand to callers.
func (h *Hospital) Redacted() *Hospital {
	out := *h
	out.Credential = CredentialMask
	out.DonorIDs = slices.Clone(h.DonorIDs)
	if out.DonorIDs == nil {
		out.DonorIDs = []id.ID{}
	}
	return &out
}
