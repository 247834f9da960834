package service

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"golang.org/x/crypto/bcrypt"

	"bloodlink/internal/bloodbank/credential"
	"bloodlink/internal/bloodbank/models"
	"bloodlink/internal/bloodbank/store"
	"bloodlink/internal/storage/memory"
	id "bloodlink/pkg/domain"
	dErrors "bloodlink/pkg/domain-errors"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "bloodbank",
		ScenarioInitializer: initializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

// pledgeWorld is the per-scenario state.
type pledgeWorld struct {
	svc      *Service
	hospital *models.Hospital
	patient  *models.Patient
	donor    *models.Donor
	conf     *models.PledgeConfirmation
	err      error
	returned []string
}

func initializeScenario(sc *godog.ScenarioContext) {
	w := &pledgeWorld{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		svc, err := New(store.New(memory.New()), credential.NewBcrypt(bcrypt.MinCost))
		*w = pledgeWorld{svc: svc}
		return ctx, err
	})

	sc.Step(`^a hospital "([^"]*)" at "([^"]*)" in "([^"]*)" with credential "([^"]*)"$`, w.aHospital)
	sc.Step(`^a patient "([^"]*)" needing (\d+) pints at "([^"]*)" with credential "([^"]*)"$`, w.aPatient)
	sc.Step(`^a donor "([^"]*)" with blood group "([^"]*)" and credential "([^"]*)"$`, w.aDonor)
	sc.Step(`^the patient has already received (\d+) pints$`, w.patientAlreadyReceived)
	sc.Step(`^the donor pledges (\d+) pints? to the (hospital|patient) with credential "([^"]*)"$`, w.donorPledges)
	sc.Step(`^the hospital is renamed to "([^"]*)" with credential "([^"]*)"$`, w.renameHospital)

	sc.Step(`^the pledge succeeds$`, w.pledgeSucceeds)
	sc.Step(`^the pledge succeeds with a message mentioning "([^"]*)" and "([^"]*)"$`, w.pledgeSucceedsMentioning)
	sc.Step(`^the (?:pledge|request) fails with "([^"]*)"$`, w.failsWith)
	sc.Step(`^the hospital lists the donor$`, w.hospitalListsDonor)
	sc.Step(`^the patient lists the donor$`, w.patientListsDonor)
	sc.Step(`^the donor lists the (hospital|patient)$`, w.donorListsRecipient)
	sc.Step(`^the patient is complete$`, func(ctx context.Context) error { return w.patientCompletion(ctx, "true") })
	sc.Step(`^the patient completion is "(true|false)"$`, w.patientCompletion)
	sc.Step(`^the patient has (\d+) donated pints$`, w.patientDonations)
	sc.Step(`^the hospital is still named "([^"]*)"$`, w.hospitalNamed)
	sc.Step(`^every returned record is redacted$`, w.everyRecordRedacted)
}

func (w *pledgeWorld) record(credential string) {
	w.returned = append(w.returned, credential)
}

func (w *pledgeWorld) aHospital(ctx context.Context, name, address, city, cred string) error {
	h, err := w.svc.AddHospital(ctx, &models.CreateHospitalRequest{Name: name, Address: address, City: city, Credential: cred})
	if err != nil {
		return err
	}
	w.hospital = h
	w.record(h.Credential)
	return nil
}

func (w *pledgeWorld) aPatient(ctx context.Context, name string, needed int, hospital, cred string) error {
	p, err := w.svc.AddPatient(ctx, &models.CreatePatientRequest{
		Name: name, BloodGroup: "A+", Description: "awaiting transfusion",
		Credential: cred, Hospital: hospital, NeededPints: uint32(needed),
	})
	if err != nil {
		return err
	}
	w.patient = p
	w.record(p.Credential)
	return nil
}

func (w *pledgeWorld) aDonor(ctx context.Context, name, group, cred string) error {
	d, err := w.svc.AddDonor(ctx, &models.CreateDonorRequest{Name: name, BloodGroup: models.BloodGroup(group), Credential: cred})
	if err != nil {
		return err
	}
	w.donor = d
	w.record(d.Credential)
	return nil
}

// patientAlreadyReceived pledges through a separate donor, using the
// patient credential from the scenario's patient step.
func (w *pledgeWorld) patientAlreadyReceived(ctx context.Context, pints int) error {
	seed, err := w.svc.AddDonor(ctx, &models.CreateDonorRequest{Name: "Seed Donor", BloodGroup: "O-", Credential: "seed"})
	if err != nil {
		return err
	}
	_, err = w.svc.PledgeToPatient(ctx, &models.PledgeRequest{DonorID: seed.ID, RecipientID: w.patient.ID, Pints: uint32(pints), Credential: "pw3"})
	return err
}

func (w *pledgeWorld) donorPledges(ctx context.Context, pints int, kind, cred string) error {
	req := &models.PledgeRequest{DonorID: w.donor.ID, Pints: uint32(pints), Credential: cred}
	if kind == "hospital" {
		req.RecipientID = w.hospital.ID
		w.conf, w.err = w.svc.PledgeToHospital(ctx, req)
	} else {
		req.RecipientID = w.patient.ID
		w.conf, w.err = w.svc.PledgeToPatient(ctx, req)
	}
	return nil
}

func (w *pledgeWorld) renameHospital(ctx context.Context, name, cred string) error {
	_, w.err = w.svc.EditHospital(ctx, &models.EditHospitalRequest{HospitalID: w.hospital.ID, Name: name, Credential: cred})
	return nil
}

func (w *pledgeWorld) pledgeSucceeds() error {
	if w.err != nil {
		return fmt.Errorf("expected success, got %v", w.err)
	}
	if w.conf == nil {
		return fmt.Errorf("expected a confirmation")
	}
	return nil
}

func (w *pledgeWorld) pledgeSucceedsMentioning(first, second string) error {
	if err := w.pledgeSucceeds(); err != nil {
		return err
	}
	for _, want := range []string{first, second} {
		if !strings.Contains(w.conf.Message, want) {
			return fmt.Errorf("message %q does not mention %q", w.conf.Message, want)
		}
	}
	return nil
}

func (w *pledgeWorld) failsWith(code string) error {
	if w.err == nil {
		return fmt.Errorf("expected %s, got success", code)
	}
	if got := dErrors.CodeOf(w.err); string(got) != code {
		return fmt.Errorf("expected %s, got %s (%v)", code, got, w.err)
	}
	return nil
}

func (w *pledgeWorld) hospitalListsDonor(ctx context.Context) error {
	h, err := w.svc.GetHospital(ctx, w.hospital.ID)
	if err != nil {
		return err
	}
	w.record(h.Credential)
	return expectLink(h.DonorIDs, w.donor.ID, "hospital donors")
}

func (w *pledgeWorld) patientListsDonor(ctx context.Context) error {
	p, err := w.svc.GetPatient(ctx, w.patient.ID)
	if err != nil {
		return err
	}
	w.record(p.Credential)
	return expectLink(p.DonorIDs, w.donor.ID, "patient donors")
}

func (w *pledgeWorld) donorListsRecipient(ctx context.Context, kind string) error {
	d, err := w.svc.GetDonor(ctx, w.donor.ID)
	if err != nil {
		return err
	}
	w.record(d.Credential)
	var want id.ID
	switch kind {
	case "hospital":
		want = w.hospital.ID
	case "patient":
		want = w.patient.ID
	default:
		return fmt.Errorf("unknown recipient kind %q", kind)
	}
	return expectLink(d.Beneficiaries, want, "donor beneficiaries")
}

func (w *pledgeWorld) patientCompletion(ctx context.Context, want string) error {
	p, err := w.svc.GetPatient(ctx, w.patient.ID)
	if err != nil {
		return err
	}
	if strconv.FormatBool(p.IsComplete) != want {
		return fmt.Errorf("expected completion %s, got %t", want, p.IsComplete)
	}
	return nil
}

func (w *pledgeWorld) patientDonations(ctx context.Context, want int) error {
	p, err := w.svc.GetPatient(ctx, w.patient.ID)
	if err != nil {
		return err
	}
	if p.Donations != uint32(want) {
		return fmt.Errorf("expected %d donated pints, got %d", want, p.Donations)
	}
	return nil
}

func (w *pledgeWorld) hospitalNamed(ctx context.Context, name string) error {
	h, err := w.svc.GetHospital(ctx, w.hospital.ID)
	if err != nil {
		return err
	}
	if h.Name != name {
		return fmt.Errorf("expected hospital name %q, got %q", name, h.Name)
	}
	return nil
}

func (w *pledgeWorld) everyRecordRedacted() error {
	for _, c := range w.returned {
		if c != models.CredentialMask {
			return fmt.Errorf("credential %q leaked", c)
		}
	}
	return nil
}

func expectLink(ids []id.ID, want id.ID, what string) error {
	if !slices.Contains(ids, want) {
		return fmt.Errorf("%s %v do not contain %d", what, ids, want)
	}
	return nil
}
