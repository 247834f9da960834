// Package audit records every state change of the blood bank as an
// append-only trail of events.
package audit

import (
	"time"

	"github.com/google/uuid"

	id "bloodlink/pkg/domain"
)

// Action names what happened.
type Action string

const (
	ActionHospitalCreated    Action = "hospital_created"
	ActionHospitalEdited     Action = "hospital_edited"
	ActionPatientCreated     Action = "patient_created"
	ActionPatientEdited      Action = "patient_edited"
	ActionDonorCreated       Action = "donor_created"
	ActionPledgedToHospital  Action = "pledged_to_hospital"
	ActionPledgedToPatient   Action = "pledged_to_patient"
	ActionCredentialRejected Action = "credential_rejected"
)

// Decision values for events that record an authorization outcome.
const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`

	// Subject is the record kind the action touched ("hospital", "patient", "donor").
	Subject   string `json:"subject"`
	SubjectID id.ID  `json:"subject_id"`
	DonorID   *id.ID `json:"donor_id,omitempty"`
	Pints     uint32 `json:"pints,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
}

// IsPledge reports whether the event records a completed pledge.
func (e Event) IsPledge() bool {
	return e.Action == ActionPledgedToHospital || e.Action == ActionPledgedToPatient
}
