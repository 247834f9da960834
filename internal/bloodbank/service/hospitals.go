package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"bloodlink/internal/audit"
	"bloodlink/internal/bloodbank/models"
	"bloodlink/internal/storage"
	id "bloodlink/pkg/domain"
	dErrors "bloodlink/pkg/domain-errors"
)

const subjectHospital = "hospital"

// ListHospitals returns every hospital in id order.
func (s *Service) ListHospitals(ctx context.Context) (out []*models.Hospital, err error) {
	ctx, span := s.startSpan(ctx, "ListHospitals")
	defer func() { endSpan(span, err) }()

	err = s.tx.View(ctx, func(ctx context.Context) error {
		records, err := s.stores.Hospitals.Scan(ctx)
		if err != nil {
			return storageFault(err, "failed to list hospitals")
		}
		for _, r := range records {
			out = append(out, r.Value.Redacted())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no hospitals found")
	}
	return out, nil
}

// SearchHospitals returns hospitals whose city or name contains query,
// ignoring case.
func (s *Service) SearchHospitals(ctx context.Context, query string) (out []*models.Hospital, err error) {
	ctx, span := s.startSpan(ctx, "SearchHospitals", attribute.String("query", query))
	defer func() { endSpan(span, err) }()

	lower := strings.ToLower(query)
	err = s.tx.View(ctx, func(ctx context.Context) error {
		records, err := s.stores.Hospitals.Scan(ctx)
		if err != nil {
			return storageFault(err, "failed to search hospitals")
		}
		for _, r := range records {
			if r.Value.Matches(lower) {
				out = append(out, r.Value.Redacted())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no hospitals for city or name: %s could be found", query)
	}
	return out, nil
}

func (s *Service) GetHospital(ctx context.Context, hospitalID id.ID) (out *models.Hospital, err error) {
	ctx, span := s.startSpan(ctx, "GetHospital", idAttr("hospital_id", hospitalID))
	defer func() { endSpan(span, err) }()

	err = s.tx.View(ctx, func(ctx context.Context) error {
		h, err := s.loadHospital(ctx, hospitalID)
		if err != nil {
			return err
		}
		out = h.Redacted()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddHospital validates the request, seals the credential and stores the
// hospital under a fresh id.
func (s *Service) AddHospital(ctx context.Context, req *models.CreateHospitalRequest) (out *models.Hospital, err error) {
	ctx, span := s.startSpan(ctx, "AddHospital")
	defer func() { endSpan(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sealed, err := s.seal(req.Credential)
	if err != nil {
		return nil, err
	}

	var created *models.Hospital
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		hospitalID, err := s.stores.Sequence.Next(ctx)
		if err != nil {
			return storageFault(err, "failed to assign hospital id")
		}
		h, err := models.NewHospital(hospitalID, req.Name, req.Address, req.City, sealed)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Could not add hospital name: %s", h.Name)
		m, err := s.stores.Hospitals.Stage(h.ID, h, storage.ExpectAbsent)
		if err != nil {
			return storageFault(err, msg)
		}
		if err := s.writeRecord(ctx, m, msg); err != nil {
			return err
		}
		created = h
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "add hospital failed", err)
		return nil, err
	}

	s.emit(ctx, audit.Event{Action: audit.ActionHospitalCreated, Subject: subjectHospital, SubjectID: created.ID})
	s.incrementRecordCreated(subjectHospital)
	return created.Redacted(), nil
}

// EditHospital renames a hospital. The stored credential must match.
func (s *Service) EditHospital(ctx context.Context, req *models.EditHospitalRequest) (out *models.Hospital, err error) {
	ctx, span := s.startSpan(ctx, "EditHospital")
	defer func() { endSpan(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(idAttr("hospital_id", req.HospitalID))

	var edited *models.Hospital
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		h, err := s.loadHospital(ctx, req.HospitalID)
		if err != nil {
			return err
		}
		if err := s.guard.Verify(h.Credential, req.Credential); err != nil {
			return err
		}
		if err := h.Rename(req.Name); err != nil {
			return err
		}
		msg := fmt.Sprintf("Could not edit hospital title: %s", h.Name)
		m, err := s.stores.Hospitals.Stage(h.ID, h, storage.ExpectPresent)
		if err != nil {
			return storageFault(err, msg)
		}
		if err := s.writeRecord(ctx, m, msg); err != nil {
			return err
		}
		edited = h
		return nil
	})
	if err != nil {
		s.auditRejection(ctx, err, subjectHospital, req.HospitalID)
		s.logFailure(ctx, "edit hospital failed", err, zap.Uint64("hospital_id", uint64(req.HospitalID)))
		return nil, err
	}

	s.emit(ctx, audit.Event{Action: audit.ActionHospitalEdited, Subject: subjectHospital, SubjectID: edited.ID})
	return edited.Redacted(), nil
}

// loadHospital returns the stored record, credential included.
func (s *Service) loadHospital(ctx context.Context, hospitalID id.ID) (*models.Hospital, error) {
	h, err := s.stores.Hospitals.Get(ctx, hospitalID)
	if err != nil {
		return nil, lookupFault(err,
			fmt.Sprintf("hospital of id: %d not found", hospitalID),
			"failed to load hospital")
	}
	return h, nil
}
