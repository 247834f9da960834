package service

import (
	"context"
	"fmt"

	"bloodlink/internal/audit"
	"bloodlink/internal/bloodbank/models"
	"bloodlink/internal/storage"
	id "bloodlink/pkg/domain"
)

const subjectDonor = "donor"

func (s *Service) AddDonor(ctx context.Context, req *models.CreateDonorRequest) (out *models.Donor, err error) {
	ctx, span := s.startSpan(ctx, "AddDonor")
	defer func() { endSpan(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sealed, err := s.seal(req.Credential)
	if err != nil {
		return nil, err
	}

	var created *models.Donor
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		donorID, err := s.stores.Sequence.Next(ctx)
		if err != nil {
			return storageFault(err, "failed to assign donor id")
		}
		d, err := models.NewDonor(donorID, req.Name, req.BloodGroup, sealed)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Could not add donor name: %s", d.Name)
		m, err := s.stores.Donors.Stage(d.ID, d, storage.ExpectAbsent)
		if err != nil {
			return storageFault(err, msg)
		}
		if err := s.writeRecord(ctx, m, msg); err != nil {
			return err
		}
		created = d
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "add donor failed", err)
		return nil, err
	}

	s.emit(ctx, audit.Event{Action: audit.ActionDonorCreated, Subject: subjectDonor, SubjectID: created.ID})
	s.incrementRecordCreated(subjectDonor)
	return created.Redacted(), nil
}

func (s *Service) GetDonor(ctx context.Context, donorID id.ID) (out *models.Donor, err error) {
	ctx, span := s.startSpan(ctx, "GetDonor", idAttr("donor_id", donorID))
	defer func() { endSpan(span, err) }()

	err = s.tx.View(ctx, func(ctx context.Context) error {
		d, err := s.stores.Donors.Get(ctx, donorID)
		if err != nil {
			return lookupFault(err, fmt.Sprintf("donor id:%d does not exist", donorID), "failed to load donor")
		}
		out = d.Redacted()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
