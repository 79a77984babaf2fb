package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/eyeline-optics/api/internal/domain"
	pfirestore "github.com/eyeline-optics/api/internal/platform/firestore"
)

const prescriptionsCollection = "prescriptions"

// PrescriptionRepository resolves customer-owned prescriptions. Orders never
// reference these documents; checkout copies the values into a snapshot.
type PrescriptionRepository struct {
	provider      *pfirestore.Provider
	prescriptions *pfirestore.BaseRepository[prescriptionDocument]
}

// NewPrescriptionRepository constructs a Firestore-backed prescription repository.
func NewPrescriptionRepository(provider *pfirestore.Provider) (*PrescriptionRepository, error) {
	if provider == nil {
		return nil, errors.New("prescription repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[prescriptionDocument](provider, prescriptionsCollection, nil, nil)
	return &PrescriptionRepository{provider: provider, prescriptions: base}, nil
}

// GetActive returns the prescription when it exists, is active and belongs to
// the customer. Ownership mismatch reads as not found.
func (r *PrescriptionRepository) GetActive(ctx context.Context, customerID string, prescriptionID string) (domain.Prescription, error) {
	if r == nil || r.prescriptions == nil {
		return domain.Prescription{}, errors.New("prescription repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	prescriptionID = strings.TrimSpace(prescriptionID)
	if customerID == "" || prescriptionID == "" {
		return domain.Prescription{}, errors.New("prescription: customer id and prescription id are required")
	}

	doc, err := r.prescriptions.Get(ctx, prescriptionID)
	if err != nil {
		return domain.Prescription{}, pfirestore.WrapError("prescriptions.get", err)
	}
	p := doc.Data.toDomain(doc.ID)
	if p.CustomerID != customerID || p.Status != domain.StatusActive {
		return domain.Prescription{}, pfirestore.WrapError("prescriptions.get",
			notFoundf("prescription %s not found for customer", prescriptionID))
	}
	return p, nil
}

type prescriptionDocument struct {
	CustomerID        string                  `firestore:"customerId"`
	Right             eyePrescriptionDocument `firestore:"right"`
	Left              eyePrescriptionDocument `firestore:"left"`
	PupillaryDistance *float64                `firestore:"pupillaryDistance,omitempty"`
	Notes             string                  `firestore:"notes,omitempty"`
	Prescriber        string                  `firestore:"prescriber,omitempty"`
	IssuedAt          *time.Time              `firestore:"issuedAt,omitempty"`
	Status            int                     `firestore:"status"`
	CreatedAt         time.Time               `firestore:"createdAt"`
	UpdatedAt         time.Time               `firestore:"updatedAt"`
}

func (d prescriptionDocument) toDomain(id string) domain.Prescription {
	return domain.Prescription{
		ID:                id,
		CustomerID:        strings.TrimSpace(d.CustomerID),
		Right:             d.Right.toDomain(),
		Left:              d.Left.toDomain(),
		PupillaryDistance: d.PupillaryDistance,
		Notes:             strings.TrimSpace(d.Notes),
		Prescriber:        strings.TrimSpace(d.Prescriber),
		IssuedAt:          d.IssuedAt,
		Status:            d.Status,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}
