package service

import (
	"context"
	"errors"
	"math"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"bloodlink/internal/audit"
	"bloodlink/internal/bloodbank/models"
	"bloodlink/internal/bloodbank/store"
	"bloodlink/internal/storage"
	"bloodlink/internal/storage/memory"
	id "bloodlink/pkg/domain"
	dErrors "bloodlink/pkg/domain-errors"
)

// =============================================================================
// Pledge Coordinator
// =============================================================================

func (s *ServiceSuite) pledgeToPatient(donor, patient id.ID, pints uint32, cred string) (*models.PledgeConfirmation, error) {
	return s.svc.PledgeToPatient(s.ctx, &models.PledgeRequest{DonorID: donor, RecipientID: patient, Pints: pints, Credential: cred})
}

func (s *ServiceSuite) TestPledgeToHospitalScenario() {
	h := s.addHospital("City Gen", "1 Main St", "Metro", "pw1")
	d := s.addDonor("Alex", "pw2")

	conf, err := s.svc.PledgeToHospital(s.ctx, &models.PledgeRequest{DonorID: d.ID, RecipientID: h.ID, Pints: 1, Credential: "pw1"})
	s.Require().NoError(err)
	s.Contains(conf.Message, "City Gen")
	s.Contains(conf.Message, "1 Main St")
	s.Equal("1 Main St", conf.VisitAt)

	got, err := s.svc.GetHospital(s.ctx, h.ID)
	s.Require().NoError(err)
	s.Equal([]id.ID{d.ID}, got.DonorIDs)
	s.Zero(got.Donations, "hospital pledges leave the donation tally alone")

	donor, err := s.svc.GetDonor(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Equal([]id.ID{h.ID}, donor.Beneficiaries)

	s.Equal(1.0, promtest.ToFloat64(s.metrics.Pledges.WithLabelValues("hospital", "success")))
}

func (s *ServiceSuite) TestRepeatPledgesKeepDuplicates() {
	h := s.addHospital("City Gen", "1 Main St", "Metro", "pw1")
	d := s.addDonor("Alex", "pw2")
	req := &models.PledgeRequest{DonorID: d.ID, RecipientID: h.ID, Pints: 2, Credential: "pw1"}

	_, err := s.svc.PledgeToHospital(s.ctx, req)
	s.Require().NoError(err)
	_, err = s.svc.PledgeToHospital(s.ctx, req)
	s.Require().NoError(err)

	got, err := s.svc.GetHospital(s.ctx, h.ID)
	s.Require().NoError(err)
	s.Equal([]id.ID{d.ID, d.ID}, got.DonorIDs)
	donor, err := s.svc.GetDonor(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Equal([]id.ID{h.ID, h.ID}, donor.Beneficiaries)
}

func (s *ServiceSuite) TestPledgeToPatientFromPartialTally() {
	for _, pints := range []uint32{1, 5, 6, 9} {
		s.SetupTest()
		p := s.addPatient("Jane", 10, "pw3")
		seedDonor := s.addDonor("Sam", "pw2")
		_, err := s.pledgeToPatient(seedDonor.ID, p.ID, 4, "pw3")
		s.Require().NoError(err)

		d := s.addDonor("Alex", "pw2")
		conf, err := s.pledgeToPatient(d.ID, p.ID, pints, "pw3")
		s.Require().NoError(err)
		s.Equal("Successfully pledged to patient Jane, visit hospital: City Gen to donate", conf.Message)

		got, err := s.svc.GetPatient(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(4+pints, got.Donations)
		s.Equal(4+pints >= 10, got.IsComplete, "pints=%d", pints)
		s.Contains(got.DonorIDs, d.ID)

		donor, err := s.svc.GetDonor(s.ctx, d.ID)
		s.Require().NoError(err)
		s.Contains(donor.Beneficiaries, p.ID)
	}
}

func (s *ServiceSuite) TestPledgeToMetTargetIsRejected() {
	p := s.addPatient("Jane", 2, "pw3")
	d := s.addDonor("Alex", "pw2")

	_, err := s.pledgeToPatient(d.ID, p.ID, 2, "pw3")
	s.Require().NoError(err)
	got, err := s.svc.GetPatient(s.ctx, p.ID)
	s.Require().NoError(err)
	s.True(got.IsComplete)

	patientBefore := s.raw(store.BucketPatients, p.ID)
	donorBefore := s.raw(store.BucketDonors, d.ID)
	for _, pints := range []uint32{0, 1, 100} {
		_, err := s.pledgeToPatient(d.ID, p.ID, pints, "pw3")
		s.requireCode(err, dErrors.CodeInvalidPayload)
		s.Equal("Patient has already reached their needed donation target", err.Error())
	}
	s.Equal(patientBefore, s.raw(store.BucketPatients, p.ID))
	s.Equal(donorBefore, s.raw(store.BucketDonors, d.ID))
	s.Equal(3.0, promtest.ToFloat64(s.metrics.Pledges.WithLabelValues("patient", "rejected")))
}

func (s *ServiceSuite) TestPledgeOvershootAndZeroPints() {
	p := s.addPatient("Jane", 3, "pw3")
	d := s.addDonor("Alex", "pw2")

	_, err := s.pledgeToPatient(d.ID, p.ID, 0, "pw3")
	s.Require().NoError(err)
	_, err = s.pledgeToPatient(d.ID, p.ID, 7, "pw3")
	s.Require().NoError(err)

	got, err := s.svc.GetPatient(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(uint32(7), got.Donations)
	s.True(got.IsComplete)
	s.Equal([]id.ID{d.ID, d.ID}, got.DonorIDs)
}

func (s *ServiceSuite) TestPledgeOverflowIsRejected() {
	p := s.addPatient("Jane", math.MaxUint32, "pw3")
	d := s.addDonor("Alex", "pw2")
	_, err := s.pledgeToPatient(d.ID, p.ID, math.MaxUint32-1, "pw3")
	s.Require().NoError(err)

	before := s.raw(store.BucketPatients, p.ID)
	_, err = s.pledgeToPatient(d.ID, p.ID, 2, "pw3")
	s.requireCode(err, dErrors.CodeInvalidPayload)
	s.Equal(before, s.raw(store.BucketPatients, p.ID))
}

func (s *ServiceSuite) TestPledgePreconditionOrder() {
	h := s.addHospital("City Gen", "1 Main St", "Metro", "pw1")
	p := s.addPatient("Jane", 2, "pw3")
	d := s.addDonor("Alex", "pw2")

	s.Run("missing recipient wins over a wrong credential", func() {
		_, err := s.svc.PledgeToHospital(s.ctx, &models.PledgeRequest{DonorID: d.ID, RecipientID: 77, Credential: "bad"})
		s.requireCode(err, dErrors.CodeNotFound)
		s.Equal("hospital of id: 77 not found", err.Error())

		_, err = s.pledgeToPatient(d.ID, 77, 1, "bad")
		s.requireCode(err, dErrors.CodeNotFound)
		s.Equal("patient of id: 77 not found", err.Error())
	})

	s.Run("a donor id is not a hospital id", func() {
		_, err := s.svc.PledgeToHospital(s.ctx, &models.PledgeRequest{DonorID: d.ID, RecipientID: d.ID, Credential: "pw2"})
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("wrong credential wins over a missing donor", func() {
		_, err := s.svc.PledgeToHospital(s.ctx, &models.PledgeRequest{DonorID: 77, RecipientID: h.ID, Credential: "pw3"})
		s.requireCode(err, dErrors.CodeUnauthorized)

		_, err = s.pledgeToPatient(77, p.ID, 1, "pw1")
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("missing donor is reported once the credential matches", func() {
		_, err := s.svc.PledgeToHospital(s.ctx, &models.PledgeRequest{DonorID: 77, RecipientID: h.ID, Credential: "pw1"})
		s.requireCode(err, dErrors.CodeNotFound)
		s.Equal("Donor of id: 77 not found", err.Error())
	})

	s.Run("nil request is invalid", func() {
		_, err := s.svc.PledgeToPatient(s.ctx, nil)
		s.requireCode(err, dErrors.CodeInvalidPayload)
	})

	s.Run("nothing was written", func() {
		got, err := s.svc.GetHospital(s.ctx, h.ID)
		s.Require().NoError(err)
		s.Empty(got.DonorIDs)
		donor, err := s.svc.GetDonor(s.ctx, d.ID)
		s.Require().NoError(err)
		s.Empty(donor.Beneficiaries)
	})

	s.Equal(1.0, promtest.ToFloat64(s.metrics.Pledges.WithLabelValues("hospital", "unauthorized")))
}

func (s *ServiceSuite) TestPledgeAuditTrail() {
	p := s.addPatient("Jane", 2, "pw3")
	d := s.addDonor("Alex", "pw2")
	_, err := s.pledgeToPatient(d.ID, p.ID, 1, "pw3")
	s.Require().NoError(err)

	events, err := s.auditStore.ListBySubject(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	pledge := events[1]
	s.Equal(audit.ActionPledgedToPatient, pledge.Action)
	s.Equal(p.ID, pledge.SubjectID)
	s.Require().NotNil(pledge.DonorID)
	s.Equal(d.ID, *pledge.DonorID)
	s.Equal(uint32(1), pledge.Pints)
	s.Equal(audit.DecisionGranted, pledge.Decision)
}

// =============================================================================
// Atomicity on backends without batch support
// =============================================================================

var errWriteFailed = errors.New("write failed")

// flakyBackend hides the memory backend's Apply so pledges commit through
// sequential writes, and fails the failOn-th Put after arm is called.
type flakyBackend struct {
	storage.Backend
	armed  bool
	puts   int
	failOn int
}

func (b *flakyBackend) arm(failOn int) {
	b.armed, b.puts, b.failOn = true, 0, failOn
}

func (b *flakyBackend) Put(ctx context.Context, bucket string, key id.ID, value []byte) ([]byte, bool, error) {
	if b.armed {
		b.puts++
		if b.puts == b.failOn {
			return nil, false, errWriteFailed
		}
	}
	return b.Backend.Put(ctx, bucket, key, value)
}

func (s *ServiceSuite) TestPledgeRollsBackWhenSecondWriteFails() {
	backend := &flakyBackend{Backend: memory.New()}
	s.setup(backend)
	p := s.addPatient("Jane", 4, "pw3")
	d := s.addDonor("Alex", "pw2")
	patientBefore := s.raw(store.BucketPatients, p.ID)
	donorBefore := s.raw(store.BucketDonors, d.ID)

	backend.arm(2)
	_, err := s.pledgeToPatient(d.ID, p.ID, 2, "pw3")
	s.requireCode(err, dErrors.CodeInternal)
	s.ErrorIs(err, errWriteFailed)

	s.Equal(patientBefore, s.raw(store.BucketPatients, p.ID))
	s.Equal(donorBefore, s.raw(store.BucketDonors, d.ID))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.PledgeRollbacks))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Pledges.WithLabelValues("patient", "error")))
	s.NotContains(s.auditActions(), audit.ActionPledgedToPatient)
}

func (s *ServiceSuite) TestPledgeFirstWriteFailureNeedsNoRollback() {
	backend := &flakyBackend{Backend: memory.New()}
	s.setup(backend)
	h := s.addHospital("City Gen", "1 Main St", "Metro", "pw1")
	d := s.addDonor("Alex", "pw2")
	hospitalBefore := s.raw(store.BucketHospitals, h.ID)

	backend.arm(1)
	_, err := s.svc.PledgeToHospital(s.ctx, &models.PledgeRequest{DonorID: d.ID, RecipientID: h.ID, Pints: 1, Credential: "pw1"})
	s.requireCode(err, dErrors.CodeInternal)
	s.Equal(hospitalBefore, s.raw(store.BucketHospitals, h.ID))
	s.Zero(promtest.ToFloat64(s.metrics.PledgeRollbacks))
}
