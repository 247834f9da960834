package bloodbank

import (
	"context"
	"errors"
	"fmt"

	"bloodlink/internal/bloodbank/credential"
	"bloodlink/internal/bloodbank/models"
	"bloodlink/internal/bloodbank/service"
	"bloodlink/internal/bloodbank/store"
	"bloodlink/internal/storage"
	"bloodlink/internal/storage/backends"
	dErrors "bloodlink/pkg/domain-errors"
)

// Service exposes hospital, patient, donor and pledge orchestration.
type Service = service.Service

// Option configures the service.
type Option = service.Option

var (
	WithLogger         = service.WithLogger
	WithMetrics        = service.WithMetrics
	WithAuditPublisher = service.WithAuditPublisher
	WithTxTimeout      = service.WithTxTimeout
	WithTracerProvider = service.WithTracerProvider
)

// NewService constructs the blood bank service over an already open backend.
func NewService(backend storage.Backend, guard credential.Guard, opts ...Option) (*Service, error) {
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}
	return service.New(store.New(backend), guard, opts...)
}

// Open opens the configured backend and builds a service on it. The returned
// backend is owned by the caller and must be closed after the service is done.
func Open(ctx context.Context, cfg backends.Config, guard credential.Guard, opts ...Option) (*Service, storage.Backend, error) {
	backend, err := backends.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s backend: %w", driverName(cfg.Driver), err)
	}
	svc, err := NewService(backend, guard, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return svc, backend, nil
}

func driverName(d backends.Driver) string {
	if d == "" {
		return string(backends.DriverLevelDB)
	}
	return string(d)
}

// DemoCredential unlocks every record created by SeedDemo.
const DemoCredential = "demo-credential"

// SeedDemo fills an empty store with one hospital, one patient and one donor
// so a fresh deployment has something to look at. A store that already holds
// hospitals is left alone and SeedDemo returns false.
func SeedDemo(ctx context.Context, svc *Service) (bool, error) {
	_, err := svc.ListHospitals(ctx)
	switch {
	case err == nil:
		return false, nil
	case !dErrors.HasCode(err, dErrors.CodeNotFound):
		return false, err
	}

	hospital, err := svc.AddHospital(ctx, &models.CreateHospitalRequest{
		Name:       "St. Mary General",
		Address:    "12 Harbour Road",
		City:       "Lagos",
		Credential: DemoCredential,
	})
	if err != nil {
		return false, fmt.Errorf("seed hospital: %w", err)
	}
	if _, err := svc.AddPatient(ctx, &models.CreatePatientRequest{
		Name:        "Ada Obi",
		BloodGroup:  models.BloodGroupOPos,
		Description: "Scheduled for cardiac surgery",
		Credential:  DemoCredential,
		Hospital:    hospital.Name,
		NeededPints: 4,
	}); err != nil {
		return false, fmt.Errorf("seed patient: %w", err)
	}
	if _, err := svc.AddDonor(ctx, &models.CreateDonorRequest{
		Name:       "Tunde Bello",
		BloodGroup: models.BloodGroupOPos,
		Credential: DemoCredential,
	}); err != nil {
		return false, fmt.Errorf("seed donor: %w", err)
	}
	return true, nil
}
