package service

import (
	"sort"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/resource/internal/clock"
	"example.com/backstage/services/resource/internal/models"
)

// Mapper turns request bodies into aggregate changes and aggregates into
// responses.
type Mapper struct {
	clock clock.Clock
}

// NewMapper creates a mapper rendering timestamps in clk's zone.
func NewMapper(clk clock.Clock) *Mapper {
	return &Mapper{clock: clk}
}

// ToEntity builds a new, unsaved aggregate from a create body.
func (m *Mapper) ToEntity(req *models.ResourceRequest) *models.Resource {
	resource := &models.Resource{CountryCode: req.CountryCode}
	if req.Type != nil {
		resource.Type = *req.Type
	}
	if req.Location != nil {
		resource.SetLocation(newLocation(req.Location))
		alignLocation(resource)
	}
	resource.ReplaceCharacteristics(buildCharacteristics(req.Characteristics))
	return resource
}

// UpdateEntity applies a full-replacement body to an existing aggregate. The
// location row is reused. A characteristics list, even an empty one, rebuilds
// the set; an absent or null list keeps it.
func (m *Mapper) UpdateEntity(resource *models.Resource, req *models.ResourceRequest) {
	if req.Type != nil {
		resource.Type = *req.Type
	}
	resource.CountryCode = req.CountryCode

	if req.Location != nil {
		applyLocation(resource, req.Location)
	}
	alignLocation(resource)

	if req.Characteristics != nil {
		resource.ReplaceCharacteristics(buildCharacteristics(req.Characteristics))
	}
}

// PatchEntity applies the present fields of a partial body. Absent fields are
// left alone and an empty characteristic list clears the set.
func (m *Mapper) PatchEntity(resource *models.Resource, req *models.PatchResourceRequest) {
	if req.Type != nil {
		resource.Type = *req.Type
	}
	if req.CountryCode != nil {
		resource.CountryCode = *req.CountryCode
	}

	if req.Location != nil {
		applyLocation(resource, req.Location)
	}
	// Either side of the country pair may have moved.
	if (req.Location != nil || req.CountryCode != nil) && resource.CountryCode != "" {
		alignLocation(resource)
	}

	if req.Characteristics != nil {
		resource.ReplaceCharacteristics(buildCharacteristics(*req.Characteristics))
	}
}

// ToResponse renders an aggregate. Characteristics are ordered by id.
func (m *Mapper) ToResponse(resource *models.Resource) *models.ResourceResponse {
	resp := &models.ResourceResponse{
		ID:              resource.ID,
		Type:            resource.Type,
		CountryCode:     resource.CountryCode,
		Version:         resource.Version,
		CreatedAt:       models.Timestamp(m.clock.In(resource.CreatedAt)),
		UpdatedAt:       models.Timestamp(m.clock.In(resource.UpdatedAt)),
		Characteristics: make([]models.CharacteristicResponse, 0, len(resource.Characteristics)),
	}

	if loc := resource.Location; loc != nil {
		resp.Location = &models.LocationResponse{
			ID:            loc.ID,
			StreetAddress: loc.StreetAddress,
			City:          loc.City,
			PostalCode:    loc.PostalCode,
			CountryCode:   loc.CountryCode,
		}
	}

	for _, c := range resource.Characteristics {
		resp.Characteristics = append(resp.Characteristics, models.CharacteristicResponse{
			ID:    c.ID,
			Code:  c.Code,
			Type:  c.Type,
			Value: c.Value,
		})
	}
	sort.SliceStable(resp.Characteristics, func(i, j int) bool {
		return resp.Characteristics[i].ID < resp.Characteristics[j].ID
	})
	return resp
}

func newLocation(req *models.LocationRequest) *models.Location {
	return &models.Location{
		StreetAddress: req.StreetAddress,
		City:          req.City,
		PostalCode:    req.PostalCode,
		CountryCode:   req.CountryCode,
	}
}

// applyLocation updates the existing location in place, creating it when the
// aggregate has none yet.
func applyLocation(resource *models.Resource, req *models.LocationRequest) {
	if resource.Location == nil {
		resource.SetLocation(newLocation(req))
		return
	}
	loc := resource.Location
	loc.StreetAddress = req.StreetAddress
	loc.City = req.City
	loc.PostalCode = req.PostalCode
	loc.CountryCode = req.CountryCode
}

func alignLocation(resource *models.Resource) {
	from := ""
	if resource.Location != nil {
		from = resource.Location.CountryCode
	}
	if resource.AlignLocationCountry() {
		log.Debug().
			Int64("resource_id", resource.ID).
			Str("from", from).
			Str("to", resource.CountryCode).
			Msg("Aligned location country code with resource")
	}
}

// buildCharacteristics creates transient characteristics, keeping the first
// entry for each (code, type).
func buildCharacteristics(reqs []models.CharacteristicRequest) []models.Characteristic {
	out := make([]models.Characteristic, 0, len(reqs))
	seen := make(map[models.CharacteristicKey]struct{}, len(reqs))
	for _, r := range reqs {
		c := models.Characteristic{Code: r.Code, Value: r.Value}
		if r.Type != nil {
			c.Type = *r.Type
		}
		if _, dup := seen[c.Key()]; dup {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}
