// Package models holds the hospital, patient and donor records, the requests
// that create and change them, and their redacted forms.
package models

import (
	"fmt"
	"strings"

	id "bloodlink/pkg/domain"
)

// CredentialMask replaces every credential in records returned to callers.
const CredentialMask = "******"

const (
	MinNameLength        = 3
	MinDescriptionLength = 6
)

// RecipientKind names the two record kinds that can receive pledges.
type RecipientKind string

const (
	RecipientHospital RecipientKind = "hospital"
	RecipientPatient  RecipientKind = "patient"
)

// PledgeConfirmation tells the donor where to go.
type PledgeConfirmation struct {
	Kind          RecipientKind `json:"kind"`
	DonorID       id.ID         `json:"donor_id"`
	RecipientID   id.ID         `json:"recipient_id"`
	RecipientName string        `json:"recipient_name"`
	// VisitAt is the hospital address for hospitals and the hospital name
	// for patients.
	VisitAt string `json:"visit_at"`
	Pints   uint32 `json:"pints"`
	Message string `json:"message"`
}

func (c *PledgeConfirmation) String() string {
	return c.Message
}

func NewHospitalConfirmation(donorID id.ID, h *Hospital, pints uint32) *PledgeConfirmation {
	return &PledgeConfirmation{
		Kind:          RecipientHospital,
		DonorID:       donorID,
		RecipientID:   h.ID,
		RecipientName: h.Name,
		VisitAt:       h.Address,
		Pints:         pints,
		Message:       fmt.Sprintf("Successfully pledged to hospital %s, visit address: %s to donate", h.Name, h.Address),
	}
}

func NewPatientConfirmation(donorID id.ID, p *Patient, pints uint32) *PledgeConfirmation {
	return &PledgeConfirmation{
		Kind:          RecipientPatient,
		DonorID:       donorID,
		RecipientID:   p.ID,
		RecipientName: p.Name,
		VisitAt:       p.Hospital,
		Pints:         pints,
		Message:       fmt.Sprintf("Successfully pledged to patient %s, visit hospital: %s to donate", p.Name, p.Hospital),
	}
}

func containsFold(s, lowerQuery string) bool {
	return strings.Contains(strings.ToLower(s), lowerQuery)
}
