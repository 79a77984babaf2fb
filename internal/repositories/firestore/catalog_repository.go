package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/eyeline-optics/api/internal/domain"
	pfirestore "github.com/eyeline-optics/api/internal/platform/firestore"
)

const variantsCollection = "variants"

// CatalogRepository reads product variants. Stock counters on variant
// documents are written only by OrderRepository.PlaceOrder.
type CatalogRepository struct {
	provider *pfirestore.Provider
	variants *pfirestore.BaseRepository[variantDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog read model.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	variants := pfirestore.NewBaseRepository[variantDocument](provider, variantsCollection, nil, nil)
	return &CatalogRepository{provider: provider, variants: variants}, nil
}

// GetVariant fetches a single variant by id.
func (r *CatalogRepository) GetVariant(ctx context.Context, variantID string) (domain.Variant, error) {
	if r == nil || r.variants == nil {
		return domain.Variant{}, errors.New("catalog repository not initialised")
	}
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return domain.Variant{}, errors.New("catalog: variant id is required")
	}

	doc, err := r.variants.Get(ctx, variantID)
	if err != nil {
		return domain.Variant{}, pfirestore.WrapError("variants.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// GetVariants fetches the given variants, keyed by id. Missing ids are simply
// absent from the result; callers decide whether absence is fatal.
func (r *CatalogRepository) GetVariants(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error) {
	if r == nil || r.variants == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	out := make(map[string]domain.Variant, len(variantIDs))
	for _, id := range variantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		doc, err := r.variants.Get(ctx, id)
		if err != nil {
			if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
				continue
			}
			return nil, pfirestore.WrapError("variants.get", err)
		}
		out[id] = doc.Data.toDomain(doc.ID)
	}
	return out, nil
}

// Document structures -------------------------------------------------------

type variantDocument struct {
	ProductID        string  `firestore:"productId"`
	ProductName      string  `firestore:"productName"`
	ProductType      string  `firestore:"productType"`
	ProductStatus    int     `firestore:"productStatus"`
	SKU              string  `firestore:"sku"`
	Price            int64   `firestore:"price"`
	Currency         string  `firestore:"currency"`
	StockQuantity    int     `firestore:"stockQuantity"`
	PreOrderQuantity int     `firestore:"preOrderQuantity"`
	Status           int     `firestore:"status"`

	Frame       *frameSpecDocument       `firestore:"frame,omitempty"`
	Sunglasses  *sunglassesSpecDocument  `firestore:"sunglasses,omitempty"`
	RxLens      *rxLensSpecDocument      `firestore:"rxLens,omitempty"`
	ContactLens *contactLensSpecDocument `firestore:"contactLens,omitempty"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type frameSpecDocument struct {
	EyeSize      *float64 `firestore:"eyeSize,omitempty"`
	BridgeWidth  *float64 `firestore:"bridgeWidth,omitempty"`
	TempleLength *float64 `firestore:"templeLength,omitempty"`
	LensHeight   *float64 `firestore:"lensHeight,omitempty"`
	RimType      string   `firestore:"rimType,omitempty"`
	Material     string   `firestore:"material,omitempty"`
	Shape        string   `firestore:"shape,omitempty"`
}

type sunglassesSpecDocument struct {
	LensCategory  string   `firestore:"lensCategory,omitempty"`
	UVProtection  string   `firestore:"uvProtection,omitempty"`
	Polarized     bool     `firestore:"polarized"`
	LensBaseCurve *float64 `firestore:"lensBaseCurve,omitempty"`
}

type rxLensSpecDocument struct {
	LensWidth       *float64 `firestore:"lensWidth,omitempty"`
	Material        string   `firestore:"material,omitempty"`
	RefractiveIndex *float64 `firestore:"refractiveIndex,omitempty"`
	SphereMin       *float64 `firestore:"sphereMin,omitempty"`
	SphereMax       *float64 `firestore:"sphereMax,omitempty"`
	CylinderMin     *float64 `firestore:"cylinderMin,omitempty"`
	CylinderMax     *float64 `firestore:"cylinderMax,omitempty"`
	AxisMin         *float64 `firestore:"axisMin,omitempty"`
	AxisMax         *float64 `firestore:"axisMax,omitempty"`
	AddMin          *float64 `firestore:"addMin,omitempty"`
	AddMax          *float64 `firestore:"addMax,omitempty"`
	Coatings        []string `firestore:"coatings,omitempty"`
}

type contactLensSpecDocument struct {
	BaseCurve       *float64 `firestore:"baseCurve,omitempty"`
	Diameter        *float64 `firestore:"diameter,omitempty"`
	WaterContent    *float64 `firestore:"waterContent,omitempty"`
	ReplacementDays int      `firestore:"replacementDays,omitempty"`
}

func (d variantDocument) toDomain(id string) domain.Variant {
	v := domain.Variant{
		ID:               id,
		ProductID:        strings.TrimSpace(d.ProductID),
		ProductName:      strings.TrimSpace(d.ProductName),
		ProductType:      domain.ProductType(strings.TrimSpace(d.ProductType)),
		ProductStatus:    d.ProductStatus,
		SKU:              strings.TrimSpace(d.SKU),
		Price:            d.Price,
		Currency:         strings.TrimSpace(d.Currency),
		StockQuantity:    d.StockQuantity,
		PreOrderQuantity: d.PreOrderQuantity,
		Status:           d.Status,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if d.Frame != nil {
		v.Frame = &domain.FrameSpec{
			EyeSize:      d.Frame.EyeSize,
			BridgeWidth:  d.Frame.BridgeWidth,
			TempleLength: d.Frame.TempleLength,
			LensHeight:   d.Frame.LensHeight,
			RimType:      d.Frame.RimType,
			Material:     d.Frame.Material,
			Shape:        d.Frame.Shape,
		}
	}
	if d.Sunglasses != nil {
		v.Sunglasses = &domain.SunglassesSpec{
			LensCategory:  d.Sunglasses.LensCategory,
			UVProtection:  d.Sunglasses.UVProtection,
			Polarized:     d.Sunglasses.Polarized,
			LensBaseCurve: d.Sunglasses.LensBaseCurve,
		}
	}
	if d.RxLens != nil {
		v.RxLens = &domain.RxLensSpec{
			LensWidth:       d.RxLens.LensWidth,
			Material:        d.RxLens.Material,
			RefractiveIndex: d.RxLens.RefractiveIndex,
			SphereMin:       d.RxLens.SphereMin,
			SphereMax:       d.RxLens.SphereMax,
			CylinderMin:     d.RxLens.CylinderMin,
			CylinderMax:     d.RxLens.CylinderMax,
			AxisMin:         d.RxLens.AxisMin,
			AxisMax:         d.RxLens.AxisMax,
			AddMin:          d.RxLens.AddMin,
			AddMax:          d.RxLens.AddMax,
			Coatings:        append([]string(nil), d.RxLens.Coatings...),
		}
	}
	if d.ContactLens != nil {
		v.ContactLens = &domain.ContactLensSpec{
			BaseCurve:       d.ContactLens.BaseCurve,
			Diameter:        d.ContactLens.Diameter,
			WaterContent:    d.ContactLens.WaterContent,
			ReplacementDays: d.ContactLens.ReplacementDays,
		}
	}
	return v
}

func decodeVariant(id string, dataTo func(any) error) (domain.Variant, error) {
	var doc variantDocument
	if err := dataTo(&doc); err != nil {
		return domain.Variant{}, fmt.Errorf("decode variant %s: %w", id, err)
	}
	return doc.toDomain(id), nil
}
