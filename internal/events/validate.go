package events

import (
	"errors"
	"fmt"
	"strings"

	"auction-lifecycle/internal/models"
)

func fullPatch(item models.Item) models.ItemPatch {
	return models.ItemPatch{
		Make:    models.Some(item.Make),
		Model:   models.Some(item.Model),
		Color:   models.Some(item.Color),
		Mileage: models.Some(item.Mileage),
		Year:    models.Some(item.Year),
	}
}

// ValidateItem checks a full set of item attributes the way a consumer does.
func ValidateItem(item models.Item) error {
	return ValidatePatch(fullPatch(item))
}

// CheckItemShape checks a full item without the consumer-only rules. The
// auction service uses it; the poison model is refused downstream.
func CheckItemShape(item models.Item) error {
	return CheckPatchShape(fullPatch(item))
}

// ValidatePatch checks only the fields present in p.
func ValidatePatch(p models.ItemPatch) error {
	var errs []error
	if err := CheckPatchShape(p); err != nil {
		errs = append(errs, err)
	}
	if v, ok := p.Model.Get(); ok && v == PoisonModel {
		errs = append(errs, fmt.Errorf("cannot sell cars with the model name %q", PoisonModel))
	}
	return errors.Join(errs...)
}

// CheckPatchShape checks the present fields for emptiness and range.
func CheckPatchShape(p models.ItemPatch) error {
	var errs []error
	for name, f := range map[string]models.Optional[string]{"make": p.Make, "model": p.Model, "color": p.Color} {
		if f.Set && strings.TrimSpace(f.Value) == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", name))
		}
	}
	if v, ok := p.Mileage.Get(); ok && v < 0 {
		errs = append(errs, errors.New("mileage must not be negative"))
	}
	if v, ok := p.Year.Get(); ok && (v < minYear || v > maxYear) {
		errs = append(errs, fmt.Errorf("year must be between %d and %d", minYear, maxYear))
	}
	return errors.Join(errs...)
}

func (e AuctionCreated) Validate() error {
	var errs []error
	if strings.TrimSpace(e.Seller) == "" {
		errs = append(errs, errors.New("seller is required"))
	}
	if e.ReservePrice < 0 {
		errs = append(errs, errors.New("reserve price must not be negative"))
	}
	if e.AuctionEnd.IsZero() {
		errs = append(errs, errors.New("auction end is required"))
	}
	errs = append(errs, ValidateItem(models.Item{
		Make: e.Make, Model: e.Model, Color: e.Color, Mileage: e.Mileage, Year: e.Year,
	}))
	return errors.Join(errs...)
}

func (e AuctionUpdated) Validate() error {
	if e.Patch().Empty() {
		return errors.New("update carries no fields")
	}
	return ValidatePatch(e.Patch())
}

func (e AuctionFinished) Validate() error {
	var errs []error
	if strings.TrimSpace(e.Seller) == "" {
		errs = append(errs, errors.New("seller is required"))
	}
	if e.ItemSold {
		if e.Winner == nil || strings.TrimSpace(*e.Winner) == "" {
			errs = append(errs, errors.New("sold auction requires a winner"))
		}
		if e.Amount == nil || *e.Amount <= 0 {
			errs = append(errs, errors.New("sold auction requires a positive amount"))
		}
	} else if e.Winner != nil || e.Amount != nil {
		errs = append(errs, errors.New("unsold auction must not carry a winner or amount"))
	}
	return errors.Join(errs...)
}
