package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/VenueFox/app/repository"
	"github.com/ManuelReschke/VenueFox/internal/pkg/metrics/counter"
)

// VenueController serves published listings to visitors.
type VenueController struct {
	listings repository.ListingRepository
}

func NewVenueController(listings repository.ListingRepository) *VenueController {
	return &VenueController{listings: listings}
}

// HandleVenueBySlug returns a published listing. Unpublished listings are
// indistinguishable from missing ones.
func (vc *VenueController) HandleVenueBySlug(c *fiber.Ctx) error {
	listing, err := vc.listings.GetPublishedBySlug(c.Params("slug"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Venue not found")
	}
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load venue")
	}

	if err := counter.AddListingView(c.UserContext(), listing.ID); err != nil {
		log.Warnf("[Cache] View for listing %d not counted: %v", listing.ID, err)
	}

	return c.JSON(fiber.Map{
		"id":           listing.ID,
		"slug":         listing.Slug,
		"title":        listing.Title,
		"published_at": formatTimePtr(listing.PublishedAt),
		"boosted":      listing.BoostedAt != nil,
	})
}
