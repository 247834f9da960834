// Package store binds the three record kinds to their buckets on one backend.
package store

import (
	"context"

	"bloodlink/internal/bloodbank/models"
	"bloodlink/internal/storage"
)

const (
	BucketHospitals = "hospitals"
	BucketPatients  = "patients"
	BucketDonors    = "donors"
)

// Stores shares one backend, and so one id sequence, across all kinds.
type Stores struct {
	Hospitals *storage.Store[models.Hospital]
	Patients  *storage.Store[models.Patient]
	Donors    *storage.Store[models.Donor]
	Sequence  *storage.Sequence

	backend storage.Backend
}

func New(backend storage.Backend) *Stores {
	return &Stores{
		Hospitals: storage.NewStore[models.Hospital](backend, BucketHospitals),
		Patients:  storage.NewStore[models.Patient](backend, BucketPatients),
		Donors:    storage.NewStore[models.Donor](backend, BucketDonors),
		Sequence:  storage.NewSequence(backend),
		backend:   backend,
	}
}

// NewBatch starts a unit of work spanning any of the buckets.
func (s *Stores) NewBatch() *storage.Batch {
	return storage.NewBatch(s.backend)
}

func (s *Stores) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}
