package models

import (
	"math"
	"slices"

	id "bloodlink/pkg/domain"
	dErrors "bloodlink/pkg/domain-errors"
)

// Patient is a recipient requesting a number of pints.
//
// Invariants:
//   - IsComplete == (Donations >= NeededPints), recomputed on every change to
//     either field; nothing sets it directly
//   - Hospital is free text naming where to donate, not a hospital id
//   - DonorIDs grows by one entry per pledge
type Patient struct {
	ID          id.ID      `json:"id"`
	Name        string     `json:"name"`
	BloodGroup  BloodGroup `json:"blood_group"`
	Hospital    string     `json:"hospital"`
	Description string     `json:"description"`
	NeededPints uint32     `json:"needed_pints"`
	Donations   uint32     `json:"donations"`
	IsComplete  bool       `json:"is_complete"`
	Credential  string     `json:"credential"`
	DonorIDs    []id.ID    `json:"donors_ids"`
}

func NewPatient(
	patientID id.ID,
	name string,
	group BloodGroup,
	hospital string,
	description string,
	neededPints uint32,
	sealedCredential string,
) (*Patient, error) {
	if len([]rune(name)) < MinNameLength {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "patient name must be at least 3 characters")
	}
	if len([]rune(description)) < MinDescriptionLength {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "patient description must be at least 6 characters")
	}
	if !group.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "unknown blood group")
	}
	if sealedCredential == "" {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "patient credential cannot be empty")
	}
	p := &Patient{
		ID:          patientID,
		Name:        name,
		BloodGroup:  group,
		Hospital:    hospital,
		Description: description,
		NeededPints: neededPints,
		Credential:  sealedCredential,
		DonorIDs:    []id.ID{},
	}
	p.refreshCompletion()
	return p, nil
}

// AcceptsPledges reports whether the target is still open.
func (p *Patient) AcceptsPledges() bool {
	return p.Donations < p.NeededPints
}

// Revise changes the target and recomputes completion against it.
func (p *Patient) Revise(neededPints uint32) {
	p.NeededPints = neededPints
	p.refreshCompletion()
}

// RecordPledge adds pints from donorID. Overshooting the target is allowed;
// overflowing the tally is not.
func (p *Patient) RecordPledge(donorID id.ID, pints uint32) error {
	if pints > math.MaxUint32-p.Donations {
		return dErrors.New(dErrors.CodeInvalidPayload, "pledge would overflow the donation tally")
	}
	p.Donations += pints
	p.DonorIDs = append(p.DonorIDs, donorID)
	p.refreshCompletion()
	return nil
}

func (p *Patient) refreshCompletion() {
	p.IsComplete = p.Donations >= p.NeededPints
}

func (p *Patient) Redacted() *Patient {
	out := *p
	out.Credential = CredentialMask
	out.DonorIDs = slices.Clone(p.DonorIDs)
	if out.DonorIDs == nil {
		out.DonorIDs = []id.ID{}
	}
	return &out
}
