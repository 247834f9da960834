package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bloodlink/internal/audit"
	"bloodlink/internal/bloodbank/models"
	"bloodlink/internal/storage"
	id "bloodlink/pkg/domain"
	dErrors "bloodlink/pkg/domain-errors"
)

const subjectPatient = "patient"

func (s *Service) GetPatient(ctx context.Context, patientID id.ID) (out *models.Patient, err error) {
	ctx, span := s.startSpan(ctx, "GetPatient", idAttr("patient_id", patientID))
	defer func() { endSpan(span, err) }()

	err = s.tx.View(ctx, func(ctx context.Context) error {
		p, err := s.stores.Patients.Get(ctx, patientID)
		if err != nil {
			return lookupFault(err, fmt.Sprintf("patient id:%d does not exist", patientID), "failed to load patient")
		}
		out = p.Redacted()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListIncompletePatients returns patients still short of their target, in id order.
func (s *Service) ListIncompletePatients(ctx context.Context) (out []*models.Patient, err error) {
	ctx, span := s.startSpan(ctx, "ListIncompletePatients")
	defer func() { endSpan(span, err) }()

	err = s.tx.View(ctx, func(ctx context.Context) error {
		records, err := s.stores.Patients.Scan(ctx)
		if err != nil {
			return storageFault(err, "failed to list patients")
		}
		for _, r := range records {
			if !r.Value.IsComplete {
				out = append(out, r.Value.Redacted())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "No patients for donations could be found")
	}
	return out, nil
}

func (s *Service) AddPatient(ctx context.Context, req *models.CreatePatientRequest) (out *models.Patient, err error) {
	ctx, span := s.startSpan(ctx, "AddPatient")
	defer func() { endSpan(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sealed, err := s.seal(req.Credential)
	if err != nil {
		return nil, err
	}

	var created *models.Patient
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		patientID, err := s.stores.Sequence.Next(ctx)
		if err != nil {
			return storageFault(err, "failed to assign patient id")
		}
		p, err := models.NewPatient(patientID, req.Name, req.BloodGroup, req.Hospital, req.Description, req.NeededPints, sealed)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Could not add patient name: %s", p.Name)
		m, err := s.stores.Patients.Stage(p.ID, p, storage.ExpectAbsent)
		if err != nil {
			return storageFault(err, msg)
		}
		if err := s.writeRecord(ctx, m, msg); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "add patient failed", err)
		return nil, err
	}

	s.emit(ctx, audit.Event{Action: audit.ActionPatientCreated, Subject: subjectPatient, SubjectID: created.ID})
	s.incrementRecordCreated(subjectPatient)
	return created.Redacted(), nil
}

// EditPatient changes the pint target. Completion is recomputed from the
// tallies; a completion flag in the request is ignored.
func (s *Service) EditPatient(ctx context.Context, req *models.EditPatientRequest) (out *models.Patient, err error) {
	ctx, span := s.startSpan(ctx, "EditPatient")
	defer func() { endSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(idAttr("patient_id", req.PatientID))

	var edited *models.Patient
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.stores.Patients.Get(ctx, req.PatientID)
		if err != nil {
			return lookupFault(err, fmt.Sprintf("patient of id: %d not found", req.PatientID), "failed to load patient")
		}
		if err := s.guard.Verify(p.Credential, req.Credential); err != nil {
			return err
		}
		p.Revise(req.NeededPints)
		if req.IsComplete != nil && *req.IsComplete != p.IsComplete {
			s.log(ctx).Warn("ignoring supplied completion flag",
				zap.Uint64("patient_id", uint64(p.ID)),
				zap.Bool("supplied", *req.IsComplete),
				zap.Bool("derived", p.IsComplete),
			)
		}
		msg := fmt.Sprintf("Could not edit patient name: %s", p.Name)
		m, err := s.stores.Patients.Stage(p.ID, p, storage.ExpectPresent)
		if err != nil {
			return storageFault(err, msg)
		}
		if err := s.writeRecord(ctx, m, msg); err != nil {
			return err
		}
		edited = p
		return nil
	})
	if err != nil {
		s.auditRejection(ctx, err, subjectPatient, req.PatientID)
		s.logFailure(ctx, "edit patient failed", err, zap.Uint64("patient_id", uint64(req.PatientID)))
		return nil, err
	}

	s.emit(ctx, audit.Event{Action: audit.ActionPatientEdited, Subject: subjectPatient, SubjectID: edited.ID})
	return edited.Redacted(), nil
}
