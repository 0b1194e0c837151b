package catalog

import (
	"github.com/fog-of-explore/explore/internal/domain"
)

// ─── Category Tables ────────────────────────────────────────────────────────
// Both tables are indexed by domain.Category.Index(). Assigning them to a
// fixed-size array type fails to compile if a category is added or removed
// without updating the table.

var categoryMultipliers = [...]float64{
	1.2, // academic
	1.0, // social
	1.1, // recreation
	1.3, // arts
	0.8, // residential
	0.9, // utility
}

var categoryEmoji = [...]string{
	"📚", // academic
	"👥", // social
	"🎯", // recreation
	"🎨", // arts
	"🏠", // residential
	"🔧", // utility
}

var (
	_ [domain.NumCategories]float64 = categoryMultipliers
	_ [domain.NumCategories]string  = categoryEmoji
)

// DefaultEmoji is shown for categories without a table entry.
const DefaultEmoji = "📍"

// DefaultMultipliers returns a fresh copy of the built-in multiplier table.
func DefaultMultipliers() map[domain.Category]float64 {
	out := make(map[domain.Category]float64, domain.NumCategories)
	for i, cat := range domain.Categories {
		out[cat] = categoryMultipliers[i]
	}
	return out
}

// CategoryEmoji returns the display glyph for a category.
func CategoryEmoji(cat domain.Category) string {
	if i := cat.Index(); i >= 0 {
		return categoryEmoji[i]
	}
	return DefaultEmoji
}

// ─── Level Table ────────────────────────────────────────────────────────────

// DefaultThresholds returns the built-in ten-level table.
func DefaultThresholds() []domain.LevelThreshold {
	return []domain.LevelThreshold{
		{Level: 1, MinPoints: 0},
		{Level: 2, MinPoints: 100},
		{Level: 3, MinPoints: 250},
		{Level: 4, MinPoints: 500},
		{Level: 5, MinPoints: 1000},
		{Level: 6, MinPoints: 2000},
		{Level: 7, MinPoints: 3500},
		{Level: 8, MinPoints: 5500},
		{Level: 9, MinPoints: 8000},
		{Level: 10, MinPoints: 12000},
	}
}

// ─── Campus Locations ───────────────────────────────────────────────────────

// DefaultLocations returns the built-in campus sample locations.
func DefaultLocations() []domain.Location {
	return []domain.Location{
		{ID: 1, Name: "🏛️ Main Library", Description: "The heart of academic research and study",
			Latitude: 40.7128, Longitude: -74.0060, BasePoints: 50, Category: domain.CategoryAcademic, VisitRadius: 30},
		{ID: 2, Name: "🍕 Student Center", Description: "Hub of student life and dining",
			Latitude: 40.7130, Longitude: -74.0055, BasePoints: 30, Category: domain.CategorySocial, VisitRadius: 25},
		{ID: 3, Name: "🔬 Science Building", Description: "Where discoveries are made",
			Latitude: 40.7125, Longitude: -74.0065, BasePoints: 40, Category: domain.CategoryAcademic, VisitRadius: 35},
		{ID: 4, Name: "🏃 Athletic Center", Description: "Stay fit and healthy",
			Latitude: 40.7135, Longitude: -74.0070, BasePoints: 35, Category: domain.CategoryRecreation, VisitRadius: 40},
		{ID: 5, Name: "🎨 Arts Building", Description: "Express your creativity",
			Latitude: 40.7120, Longitude: -74.0050, BasePoints: 45, Category: domain.CategoryArts, VisitRadius: 30},
		{ID: 6, Name: "☕ Campus Coffee Shop", Description: "Fuel your studies with caffeine",
			Latitude: 40.7132, Longitude: -74.0058, BasePoints: 20, Category: domain.CategorySocial, VisitRadius: 20},
		{ID: 7, Name: "🌳 Central Quad", Description: "Beautiful green space for relaxation",
			Latitude: 40.7127, Longitude: -74.0062, BasePoints: 25, Category: domain.CategoryRecreation, VisitRadius: 50},
		{ID: 8, Name: "🖥️ Computer Lab", Description: "High-tech learning environment",
			Latitude: 40.7123, Longitude: -74.0067, BasePoints: 35, Category: domain.CategoryAcademic, VisitRadius: 25},
		{ID: 9, Name: "🏠 Dormitory Complex", Description: "Home away from home",
			Latitude: 40.7140, Longitude: -74.0045, BasePoints: 30, Category: domain.CategoryResidential, VisitRadius: 60},
		{ID: 10, Name: "🅿️ Main Parking", Description: "Central campus parking area",
			Latitude: 40.7115, Longitude: -74.0075, BasePoints: 15, Category: domain.CategoryUtility, VisitRadius: 40},
	}
}

// Default builds the built-in campus catalog with the default rules.
func Default() *Catalog {
	c, err := New(DefaultLocations(), DefaultMultipliers(), DefaultThresholds(), DefaultRules())
	if err != nil {
		panic("catalog: built-in tables are invalid: " + err.Error())
	}
	return c
}
