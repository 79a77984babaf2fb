package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/eyeline-optics/api/internal/domain"
	pfirestore "github.com/eyeline-optics/api/internal/platform/firestore"
)

const promotionsCollection = "promotions"

// PromotionRepository resolves promotion codes. Usage counters are written
// only inside the checkout transaction owned by OrderRepository.
type PromotionRepository struct {
	provider   *pfirestore.Provider
	promotions *pfirestore.BaseRepository[promotionDocument]
}

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[promotionDocument](provider, promotionsCollection, nil, nil)
	return &PromotionRepository{provider: provider, promotions: base}, nil
}

// FindByCode resolves a promotion by its customer-facing code.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	if r == nil || r.promotions == nil {
		return domain.Promotion{}, errors.New("promotion repository not initialised")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Promotion{}, errors.New("promotion: code is required")
	}

	docs, err := r.promotions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Promotion{}, pfirestore.WrapError("promotions.findByCode", err)
	}
	if len(docs) == 0 {
		return domain.Promotion{}, pfirestore.WrapError("promotions.findByCode",
			notFoundf("promotion %s not found", code))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Document structures -------------------------------------------------------

type promotionDocument struct {
	Code              string    `firestore:"code"`
	Name              string    `firestore:"name,omitempty"`
	Status            int       `firestore:"status"`
	DiscountPercent   *int64    `firestore:"discountPercent,omitempty"`
	DiscountAmount    *int64    `firestore:"discountAmount,omitempty"`
	MinPurchaseAmount int64     `firestore:"minPurchaseAmount"`
	StartsAt          time.Time `firestore:"startsAt"`
	EndsAt            time.Time `firestore:"endsAt"`
	TotalUsageLimit   *int      `firestore:"totalUsageLimit,omitempty"`
	PerCustomerLimit  *int      `firestore:"perCustomerLimit,omitempty"`
	CurrentUsageCount int       `firestore:"currentUsageCount"`
	CreatedAt         time.Time `firestore:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func (d promotionDocument) toDomain(id string) domain.Promotion {
	return domain.Promotion{
		ID:                id,
		Code:              strings.TrimSpace(d.Code),
		Name:              strings.TrimSpace(d.Name),
		Status:            d.Status,
		DiscountPercent:   d.DiscountPercent,
		DiscountAmount:    d.DiscountAmount,
		MinPurchaseAmount: d.MinPurchaseAmount,
		StartsAt:          d.StartsAt,
		EndsAt:            d.EndsAt,
		TotalUsageLimit:   d.TotalUsageLimit,
		PerCustomerLimit:  d.PerCustomerLimit,
		CurrentUsageCount: d.CurrentUsageCount,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// notFoundf builds a NotFound status error so WrapError classifies it for
// the repository error contract.
func notFoundf(format string, args ...any) error {
	return status.Error(codes.NotFound, fmt.Sprintf(format, args...))
}
