package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"bloodlink/internal/audit"
	"bloodlink/internal/bloodbank/metrics"
	"bloodlink/internal/bloodbank/models"
	"bloodlink/internal/storage"
	id "bloodlink/pkg/domain"
	dErrors "bloodlink/pkg/domain-errors"
)

// PledgeToHospital links a donor and a hospital. The hospital's donation
// tally is not changed; only the donor ids grow.
func (s *Service) PledgeToHospital(ctx context.Context, req *models.PledgeRequest) (out *models.PledgeConfirmation, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "PledgeToHospital")
	defer func() {
		s.observePledge(models.RecipientHospital, req, err, start)
		endSpan(span, err)
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(pledgeAttrs(req)...)

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		h, err := s.loadHospital(ctx, req.RecipientID)
		if err != nil {
			return err
		}
		if err := s.guard.Verify(h.Credential, req.Credential); err != nil {
			return err
		}
		donor, err := s.loadPledgingDonor(ctx, req.DonorID)
		if err != nil {
			return err
		}

		h.AttachDonor(donor.ID)
		donor.AddBeneficiary(h.ID)

		recipient, err := s.stores.Hospitals.Stage(h.ID, h, storage.ExpectPresent)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "Could not update hospital")
		}
		if err := s.commitPledge(ctx, recipient, donor); err != nil {
			return err
		}
		out = models.NewHospitalConfirmation(donor.ID, h, req.Pints)
		return nil
	})
	if err != nil {
		s.auditRejection(ctx, err, subjectHospital, req.RecipientID)
		s.logFailure(ctx, "pledge to hospital failed", err, pledgeFields(req)...)
		return nil, err
	}

	s.emitPledge(ctx, audit.ActionPledgedToHospital, subjectHospital, req)
	return out, nil
}

// PledgeToPatient adds pints to a patient's tally and links both records.
// A patient whose target is already met accepts no further pledges; a
// pledge may overshoot the target.
func (s *Service) PledgeToPatient(ctx context.Context, req *models.PledgeRequest) (out *models.PledgeConfirmation, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "PledgeToPatient")
	defer func() {
		s.observePledge(models.RecipientPatient, req, err, start)
		endSpan(span, err)
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(pledgeAttrs(req)...)

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.stores.Patients.Get(ctx, req.RecipientID)
		if err != nil {
			return lookupFault(err, fmt.Sprintf("patient of id: %d not found", req.RecipientID), "failed to load patient")
		}
		if err := s.guard.Verify(p.Credential, req.Credential); err != nil {
			return err
		}
		donor, err := s.loadPledgingDonor(ctx, req.DonorID)
		if err != nil {
			return err
		}
		if !p.AcceptsPledges() {
			return dErrors.New(dErrors.CodeInvalidPayload, "Patient has already reached their needed donation target")
		}

		if err := p.RecordPledge(donor.ID, req.Pints); err != nil {
			return err
		}
		donor.AddBeneficiary(p.ID)

		recipient, err := s.stores.Patients.Stage(p.ID, p, storage.ExpectPresent)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "Could not update patient")
		}
		if err := s.commitPledge(ctx, recipient, donor); err != nil {
			return err
		}
		out = models.NewPatientConfirmation(donor.ID, p, req.Pints)
		return nil
	})
	if err != nil {
		s.auditRejection(ctx, err, subjectPatient, req.RecipientID)
		s.logFailure(ctx, "pledge to patient failed", err, pledgeFields(req)...)
		return nil, err
	}

	s.emitPledge(ctx, audit.ActionPledgedToPatient, subjectPatient, req)
	return out, nil
}

func (s *Service) loadPledgingDonor(ctx context.Context, donorID id.ID) (*models.Donor, error) {
	d, err := s.stores.Donors.Get(ctx, donorID)
	if err != nil {
		return nil, lookupFault(err, fmt.Sprintf("Donor of id: %d not found", donorID), "failed to load donor")
	}
	return d, nil
}

// commitPledge writes the staged recipient and the donor as one unit. Any
// failure here is internal: the business checks have all passed.
func (s *Service) commitPledge(ctx context.Context, recipient storage.Mutation, donor *models.Donor) error {
	donorMutation, err := s.stores.Donors.Stage(donor.ID, donor, storage.ExpectPresent)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "Could not update donor")
	}

	batch := s.stores.NewBatch()
	batch.Add(donorMutation, recipient)
	err = batch.Commit(ctx)
	if err == nil {
		return nil
	}

	var commitErr *storage.CommitError
	if errors.As(err, &commitErr) {
		if commitErr.RolledBack > 0 && s.metrics != nil {
			s.metrics.IncrementRollback()
		}
		if commitErr.RollbackErr != nil {
			s.log(ctx).Error("pledge rollback incomplete, records may disagree",
				zap.Uint64("donor_id", uint64(donor.ID)),
				zap.Uint64("recipient_id", uint64(recipient.ID)),
				zap.Error(commitErr.RollbackErr),
			)
		}
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record pledge")
}

func (s *Service) observePledge(kind models.RecipientKind, req *models.PledgeRequest, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	var pints uint32
	if req != nil {
		pints = req.Pints
	}
	s.metrics.ObservePledge(string(kind), pledgeOutcome(err), pints, start)
}

func pledgeOutcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound:
		return metrics.OutcomeNotFound
	case dErrors.CodeUnauthorized:
		return metrics.OutcomeUnauthorized
	case dErrors.CodeInvalidPayload:
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

func (s *Service) emitPledge(ctx context.Context, action audit.Action, subject string, req *models.PledgeRequest) {
	donorID := req.DonorID
	s.emit(ctx, audit.Event{
		Action:    action,
		Subject:   subject,
		SubjectID: req.RecipientID,
		DonorID:   &donorID,
		Pints:     req.Pints,
		Decision:  audit.DecisionGranted,
	})
}

func pledgeAttrs(req *models.PledgeRequest) []attribute.KeyValue {
	return []attribute.KeyValue{
		idAttr("donor_id", req.DonorID),
		idAttr("recipient_id", req.RecipientID),
		attribute.Int64("pints", int64(req.Pints)),
	}
}

func pledgeFields(req *models.PledgeRequest) []zap.Field {
	return []zap.Field{
		zap.Uint64("donor_id", uint64(req.DonorID)),
		zap.Uint64("recipient_id", uint64(req.RecipientID)),
		zap.Uint32("pints", req.Pints),
	}
}
