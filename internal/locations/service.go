package locations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianops/stockflow-backend/pkg/db"
	"github.com/meridianops/stockflow-backend/pkg/db/models"
	"github.com/meridianops/stockflow-backend/pkg/enums"
	pkgerrors "github.com/meridianops/stockflow-backend/pkg/errors"
	"github.com/meridianops/stockflow-backend/pkg/types"
)

const defaultLocationCode = "DEFAULT"

type locationRepository interface {
	Create(ctx context.Context, location *models.Location) error
	FindByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*models.Location, error)
	FindByCode(ctx context.Context, code string) (*models.Location, error)
	FindByGeoKey(ctx context.Context, country, region, pincode string) (*models.Location, error)
	List(ctx context.Context, filter ListFilter) ([]models.Location, int64, error)
	Update(ctx context.Context, location *models.Location) error
	CountNonDeleted(ctx context.Context) (int64, error)
}

// Service exposes the location registry operations.
type Service interface {
	Create(ctx context.Context, input CreateLocationInput) (*models.Location, error)
	List(ctx context.Context, filter ListFilter) ([]models.Location, int64, error)
	GetByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*models.Location, error)
	Update(ctx context.Context, id uuid.UUID, patch UpdateLocationInput) (*models.Location, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, id uuid.UUID) (*models.Location, error)
	EnsureDefaultLocation(ctx context.Context) (*models.Location, error)
}

type service struct {
	repo locationRepository
}

// NewService builds a location service with the provided repository.
func NewService(repo locationRepository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("location repository required")
	}
	return &service{repo: repo}, nil
}

// CreateLocationInput captures the fields required to register a location.
type CreateLocationInput struct {
	Code     string
	Name     string
	Type     enums.LocationType
	Lat      *float64
	Lng      *float64
	Pincode  *string
	Country  *string
	Region   *string
	Priority int
	Active   *bool
	Metadata types.LocationMetadata
}

// UpdateLocationInput captures the mutable location fields.
type UpdateLocationInput struct {
	Name     *string
	Lat      *float64
	Lng      *float64
	Pincode  *string
	Country  *string
	Region   *string
	Priority *int
	Active   *bool
	Metadata *types.LocationMetadata
}

func (s *service) Create(ctx context.Context, input CreateLocationInput) (*models.Location, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location code is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location name is required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid location type %q", input.Type))
	}

	if _, err := s.repo.FindByCode(ctx, code); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("location code %q already exists", code))
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup location code")
	}

	if input.Country != nil && input.Region != nil && input.Pincode != nil {
		if _, err := s.repo.FindByGeoKey(ctx, *input.Country, *input.Region, *input.Pincode); err == nil {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a location already exists for this country/region/pincode")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup location geo key")
		}
	}

	active := true
	if input.Active != nil {
		active = *input.Active
	}
	location := &models.Location{
		Code:     code,
		Name:     strings.TrimSpace(input.Name),
		Type:     input.Type,
		Lat:      input.Lat,
		Lng:      input.Lng,
		Pincode:  input.Pincode,
		Country:  input.Country,
		Region:   input.Region,
		Priority: input.Priority,
		Active:   active,
		Metadata: input.Metadata,
	}
	if err := s.repo.Create(ctx, location); err != nil {
		// The pre-insert lookups race against concurrent writers; the partial
		// unique indexes are the authority.
		if db.IsUniqueViolation(err, "uq_locations_code") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("location code %q already exists", code))
		}
		if db.IsUniqueViolation(err, "uq_locations_geo_zone") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a location already exists for this country/region/pincode")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create location")
	}
	return location, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]models.Location, int64, error) {
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list locations")
	}
	return rows, total, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*models.Location, error) {
	location, err := s.repo.FindByID(ctx, id, includeDeleted)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "location not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load location")
	}
	return location, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, patch UpdateLocationInput) (*models.Location, error) {
	location, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "location not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load location")
	}

	if patch.Name != nil {
		location.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Lat != nil {
		location.Lat = patch.Lat
	}
	if patch.Lng != nil {
		location.Lng = patch.Lng
	}
	if patch.Pincode != nil {
		location.Pincode = patch.Pincode
	}
	if patch.Country != nil {
		location.Country = patch.Country
	}
	if patch.Region != nil {
		location.Region = patch.Region
	}
	if patch.Priority != nil {
		location.Priority = *patch.Priority
	}
	if patch.Active != nil {
		location.Active = *patch.Active
	}
	if patch.Metadata != nil {
		location.Metadata = *patch.Metadata
	}

	if err := s.repo.Update(ctx, location); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update location")
	}
	return location, nil
}

func (s *service) SoftDelete(ctx context.Context, id uuid.UUID) error {
	location, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "location not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load location")
	}

	now := time.Now().UTC()
	location.DeletedAt = &now
	location.Active = false
	if err := s.repo.Update(ctx, location); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "soft delete location")
	}
	return nil
}

func (s *service) Restore(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	location, err := s.repo.FindByID(ctx, id, true)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "location not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load location")
	}
	if !location.IsDeleted() {
		return location, nil
	}

	// Restoring must not resurrect a row whose code or geo key has been
	// reused since the deletion.
	if _, err := s.repo.FindByCode(ctx, location.Code); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("location code %q is in use", location.Code))
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup location code")
	}

	location.DeletedAt = nil
	location.Active = true
	if err := s.repo.Update(ctx, location); err != nil {
		if db.IsUniqueViolation(err, "uq_locations_code") || db.IsUniqueViolation(err, "uq_locations_geo_zone") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("location code %q is in use", location.Code))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore location")
	}
	return location, nil
}

func (s *service) EnsureDefaultLocation(ctx context.Context) (*models.Location, error) {
	count, err := s.repo.CountNonDeleted(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count locations")
	}
	if count > 0 {
		return nil, nil
	}

	location := &models.Location{
		Code:     defaultLocationCode,
		Name:     "Default Warehouse",
		Type:     enums.LocationTypeWarehouse,
		Priority: 0,
		Active:   true,
	}
	if err := s.repo.Create(ctx, location); err != nil {
		// A concurrent boot may have created it first.
		if existing, lookupErr := s.repo.FindByCode(ctx, defaultLocationCode); lookupErr == nil {
			return existing, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create default location")
	}
	return location, nil
}
