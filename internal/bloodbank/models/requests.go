package models

import (
	"strings"

	"github.com/asaskevich/govalidator"

	id "bloodlink/pkg/domain"
	dErrors "bloodlink/pkg/domain-errors"
)

// Upper bounds keep records well inside every backend's value limits.
// Credentials stop at 72 bytes, the most bcrypt will hash.
const (
	maxNameLength        = "128"
	maxAddressLength     = "256"
	maxDescriptionLength = "2048"
	maxCredentialLength  = 72
)

func invalid(msg string) error {
	return dErrors.New(dErrors.CodeInvalidPayload, msg)
}

func checkCredential(credential string) error {
	if len(credential) > maxCredentialLength {
		return invalid("credential must be 72 bytes or less")
	}
	if credential == "" {
		return invalid("credential is required")
	}
	return nil
}

type CreateHospitalRequest struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Credential string `json:"credential"`
}

func (r *CreateHospitalRequest) Normalize() {
	if r == nil {
		return
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Address = strings.TrimSpace(r.Address)
	r.City = strings.TrimSpace(r.City)
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *CreateHospitalRequest) Validate() error {
	if r == nil {
		return invalid("request is required")
	}
	if !govalidator.StringLength(r.Name, "3", maxNameLength) {
		return invalid("name must be between 3 and 128 characters")
	}
	if !govalidator.StringLength(r.Address, "3", maxAddressLength) {
		return invalid("address must be between 3 and 256 characters")
	}
	if !govalidator.StringLength(r.City, "0", maxNameLength) {
		return invalid("city must be 128 characters or less")
	}
	return checkCredential(r.Credential)
}

type EditHospitalRequest struct {
	HospitalID id.ID  `json:"hospital_id"`
	Name       string `json:"name"`
	Credential string `json:"credential"`
}

func (r *EditHospitalRequest) Normalize() {
	if r == nil {
		return
	}
	r.Name = strings.TrimSpace(r.Name)
}

// Validate checks size only. The minimum name length is enforced by
// Hospital.Rename once the caller is known to own the record, so a missing
// record or wrong credential is reported first.
func (r *EditHospitalRequest) Validate() error {
	if r == nil {
		return invalid("request is required")
	}
	if !govalidator.StringLength(r.Name, "0", maxNameLength) {
		return invalid("name must be 128 characters or less")
	}
	return nil
}

type CreatePatientRequest struct {
	Name        string     `json:"name"`
	BloodGroup  BloodGroup `json:"blood_group"`
	Description string     `json:"description"`
	Credential  string     `json:"credential"`
	Hospital    string     `json:"hospital"`
	NeededPints uint32     `json:"needed_pints"`
}

func (r *CreatePatientRequest) Normalize() {
	if r == nil {
		return
	}
	r.Name = strings.TrimSpace(r.Name)
	r.BloodGroup = NormalizeBloodGroup(string(r.BloodGroup))
	r.Description = strings.TrimSpace(r.Description)
	r.Hospital = strings.TrimSpace(r.Hospital)
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *CreatePatientRequest) Validate() error {
	if r == nil {
		return invalid("request is required")
	}
	if !govalidator.StringLength(r.Name, "3", maxNameLength) {
		return invalid("name must be between 3 and 128 characters")
	}
	if !govalidator.StringLength(r.Description, "6", maxDescriptionLength) {
		return invalid("description must be between 6 and 2048 characters")
	}
	if !govalidator.StringLength(r.Hospital, "0", maxNameLength) {
		return invalid("hospital must be 128 characters or less")
	}
	if err := checkCredential(r.Credential); err != nil {
		return err
	}
	if !govalidator.IsIn(string(r.BloodGroup), BloodGroups...) {
		return invalid("blood group must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
	}
	return nil
}

// EditPatientRequest changes the pint target. IsComplete is accepted for
// compatibility with older callers but completion is always derived from the
// tallies.
type EditPatientRequest struct {
	PatientID   id.ID  `json:"patient_id"`
	NeededPints uint32 `json:"needed_pints"`
	IsComplete  *bool  `json:"is_complete,omitempty"`
	Credential  string `json:"credential"`
}

func (r *EditPatientRequest) Validate() error {
	if r == nil {
		return invalid("request is required")
	}
	return nil
}

type CreateDonorRequest struct {
	Name       string     `json:"name"`
	BloodGroup BloodGroup `json:"blood_group"`
	Credential string     `json:"credential"`
}

func (r *CreateDonorRequest) Normalize() {
	if r == nil {
		return
	}
	r.Name = strings.TrimSpace(r.Name)
	r.BloodGroup = NormalizeBloodGroup(string(r.BloodGroup))
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *CreateDonorRequest) Validate() error {
	if r == nil {
		return invalid("request is required")
	}
	if !govalidator.StringLength(r.Name, "3", maxNameLength) {
		return invalid("name must be between 3 and 128 characters")
	}
	if err := checkCredential(r.Credential); err != nil {
		return err
	}
	if !govalidator.IsIn(string(r.BloodGroup), BloodGroups...) {
		return invalid("blood group must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
	}
	return nil
}

// PledgeRequest is shared by both recipient kinds. Credential belongs to the
// recipient, not the donor.
type PledgeRequest struct {
	DonorID     id.ID  `json:"donor_id"`
	RecipientID id.ID  `json:"recipient_id"`
	Pints       uint32 `json:"pints_pledge"`
	Credential  string `json:"credential"`
}

func (r *PledgeRequest) Validate() error {
	if r == nil {
		return invalid("request is required")
	}
	return nil
}
