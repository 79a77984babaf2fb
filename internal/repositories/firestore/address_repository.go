package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/eyeline-optics/api/internal/domain"
	pfirestore "github.com/eyeline-optics/api/internal/platform/firestore"
)

const addressesCollection = "addresses"

// AddressRepository resolves customer shipping destinations.
type AddressRepository struct {
	provider  *pfirestore.Provider
	addresses *pfirestore.BaseRepository[addressDocument]
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[addressDocument](provider, addressesCollection, nil, nil)
	return &AddressRepository{provider: provider, addresses: base}, nil
}

// GetActive returns the address when it exists, is active and belongs to the
// customer. Ownership mismatch reads as not found so callers cannot probe
// other customers' address ids.
func (r *AddressRepository) GetActive(ctx context.Context, customerID string, addressID string) (domain.Address, error) {
	if r == nil || r.addresses == nil {
		return domain.Address{}, errors.New("address repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	addressID = strings.TrimSpace(addressID)
	if customerID == "" || addressID == "" {
		return domain.Address{}, errors.New("address: customer id and address id are required")
	}

	doc, err := r.addresses.Get(ctx, addressID)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	addr := doc.Data.toDomain(doc.ID)
	if addr.CustomerID != customerID || addr.Status != domain.StatusActive {
		return domain.Address{}, pfirestore.WrapError("addresses.get",
			notFoundf("address %s not found for customer", addressID))
	}
	return addr, nil
}

type addressDocument struct {
	CustomerID    string    `firestore:"customerId"`
	RecipientName string    `firestore:"recipientName"`
	PhoneNumber   string    `firestore:"phoneNumber"`
	AddressLine   string    `firestore:"addressLine"`
	City          string    `firestore:"city,omitempty"`
	District      string    `firestore:"district,omitempty"`
	Ward          string    `firestore:"ward,omitempty"`
	Note          string    `firestore:"note,omitempty"`
	Status        int       `firestore:"status"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func (d addressDocument) toDomain(id string) domain.Address {
	return domain.Address{
		ID:            id,
		CustomerID:    strings.TrimSpace(d.CustomerID),
		RecipientName: strings.TrimSpace(d.RecipientName),
		PhoneNumber:   strings.TrimSpace(d.PhoneNumber),
		AddressLine:   strings.TrimSpace(d.AddressLine),
		City:          strings.TrimSpace(d.City),
		District:      strings.TrimSpace(d.District),
		Ward:          strings.TrimSpace(d.Ward),
		Note:          strings.TrimSpace(d.Note),
		Status:        d.Status,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
