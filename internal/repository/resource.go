package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/resource/internal/clock"
	"example.com/backstage/services/resource/internal/models"
)

// ResourceRepository persists resource aggregates under optimistic locking.
type ResourceRepository interface {
	Create(ctx context.Context, resource *models.Resource) error
	FindByID(ctx context.Context, id int64) (*models.Resource, error)
	FindAll(ctx context.Context) ([]*models.Resource, error)
	Exists(ctx context.Context, id int64) (bool, error)
	Save(ctx context.Context, resource *models.Resource) error
	Delete(ctx context.Context, resource *models.Resource) error
	Transaction(ctx context.Context, fn func(repo ResourceRepository) error) error
}

type resourceRepository struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewResourceRepository creates a repository on db. Timestamps come from clk.
func NewResourceRepository(db *gorm.DB, clk clock.Clock) ResourceRepository {
	return &resourceRepository{db: db, clock: clk}
}

func withDetails(db *gorm.DB) *gorm.DB {
	return db.Preload("Location").
		Preload("Characteristics", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
}

// Transaction runs fn against a repository bound to one database transaction.
func (r *resourceRepository) Transaction(ctx context.Context, fn func(repo ResourceRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&resourceRepository{db: tx, clock: r.clock})
	})
}

// Create inserts the aggregate with version 1 and equal creation and update
// timestamps.
func (r *resourceRepository) Create(ctx context.Context, resource *models.Resource) error {
	now := r.clock.Now()
	resource.ID = 0
	resource.Version = 1
	resource.CreatedAt = now
	resource.UpdatedAt = now

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(resource).Error; err != nil {
			return errors.Wrap(translate(err), "insert resource")
		}

		if resource.Location != nil {
			resource.SetLocation(resource.Location)
			resource.Location.ID = 0
			if err := tx.Create(resource.Location).Error; err != nil {
				return errors.Wrap(translate(err), "insert location")
			}
		}

		if len(resource.Characteristics) > 0 {
			resource.ReplaceCharacteristics(resource.Characteristics)
			for i := range resource.Characteristics {
				resource.Characteristics[i].ID = 0
			}
			if err := tx.Create(&resource.Characteristics).Error; err != nil {
				return errors.Wrap(translate(err), "insert characteristics")
			}
		}
		return nil
	})
	if err != nil {
		resource.ID = 0
		return err
	}
	return nil
}

// FindByID loads one aggregate with its location and characteristics.
func (r *resourceRepository) FindByID(ctx context.Context, id int64) (*models.Resource, error) {
	var resource models.Resource
	if err := withDetails(r.db.WithContext(ctx)).First(&resource, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(translate(err), "find resource %d", id)
	}
	return &resource, nil
}

// FindAll loads every aggregate ordered by id.
func (r *resourceRepository) FindAll(ctx context.Context) ([]*models.Resource, error) {
	var resources []*models.Resource
	if err := withDetails(r.db.WithContext(ctx)).Order("id").Find(&resources).Error; err != nil {
		return nil, errors.Wrap(translate(err), "list resources")
	}
	return resources, nil
}

// Exists reports whether a resource with id is stored.
func (r *resourceRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Resource{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, errors.Wrapf(translate(err), "check resource %d", id)
	}
	return count > 0, nil
}

// Save writes a modified aggregate. The update only applies when the stored
// version still equals resource.Version; otherwise ErrVersionConflict is
// returned and nothing is written. On success resource carries the new
// version and update time.
func (r *resourceRepository) Save(ctx context.Context, resource *models.Resource) error {
	now := r.clock.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Resource{}).
			Where("id = ? AND version = ?", resource.ID, resource.Version).
			Updates(map[string]interface{}{
				"type":         resource.Type,
				"country_code": resource.CountryCode,
				"version":      gorm.Expr("version + 1"),
				"updated_at":   now,
			})
		if result.Error != nil {
			return errors.Wrap(translate(result.Error), "update resource")
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}

		if err := saveLocation(tx, resource); err != nil {
			return err
		}
		return syncCharacteristics(tx, resource)
	})
	if err != nil {
		return err
	}

	resource.Version++
	resource.UpdatedAt = now
	return nil
}

func saveLocation(tx *gorm.DB, resource *models.Resource) error {
	loc := resource.Location
	if loc == nil {
		return nil
	}
	loc.ResourceID = resource.ID

	if loc.ID == 0 {
		if err := tx.Create(loc).Error; err != nil {
			return errors.Wrap(translate(err), "insert location")
		}
		return nil
	}

	err := tx.Model(loc).
		Select("street_address", "city", "postal_code", "country_code").
		Updates(loc).Error
	if err != nil {
		return errors.Wrap(translate(err), "update location")
	}
	return nil
}

// syncCharacteristics removes stored rows that are no longer part of the
// aggregate, rewrites the kept ones and inserts the new ones.
func syncCharacteristics(tx *gorm.DB, resource *models.Resource) error {
	kept := make([]int64, 0, len(resource.Characteristics))
	for _, c := range resource.Characteristics {
		if c.ID != 0 {
			kept = append(kept, c.ID)
		}
	}

	orphans := tx.Where("resource_id = ?", resource.ID)
	if len(kept) > 0 {
		orphans = orphans.Where("id NOT IN ?", kept)
	}
	if err := orphans.Delete(&models.Characteristic{}).Error; err != nil {
		return errors.Wrap(translate(err), "remove characteristics")
	}

	for i := range resource.Characteristics {
		c := &resource.Characteristics[i]
		c.ResourceID = resource.ID
		if c.ID != 0 {
			err := tx.Model(c).Select("code", "type", "char_value").Updates(c).Error
			if err != nil {
				return errors.Wrap(translate(err), "update characteristic")
			}
			continue
		}
		if err := tx.Create(c).Error; err != nil {
			return errors.Wrap(translate(err), "insert characteristic")
		}
	}
	return nil
}

// Delete removes the aggregate if the stored version still equals
// resource.Version.
func (r *resourceRepository) Delete(ctx context.Context, resource *models.Resource) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", resource.ID).Delete(&models.Characteristic{}).Error; err != nil {
			return errors.Wrap(translate(err), "delete characteristics")
		}
		if err := tx.Where("resource_id = ?", resource.ID).Delete(&models.Location{}).Error; err != nil {
			return errors.Wrap(translate(err), "delete location")
		}

		result := tx.Where("id = ? AND version = ?", resource.ID, resource.Version).Delete(&models.Resource{})
		if result.Error != nil {
			return errors.Wrap(translate(result.Error), "delete resource")
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	})
}
