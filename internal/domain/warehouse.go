package domain

import (
	"math"
	"strings"
	"time"
)

const earthRadiusKm = 6371.0

// GeoPoint is a latitude/longitude pair in decimal degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// DistanceKm returns the great-circle distance between p and q.
func (p GeoPoint) DistanceKm(q GeoPoint) float64 {
	lat1 := p.Latitude * math.Pi / 180
	lat2 := q.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (q.Longitude - p.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Warehouse is a physical stocking location. It is owned by the warehouse
// directory and only read here.
type Warehouse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Country      string    `json:"country"`
	Location     *GeoPoint `json:"location,omitempty"`
	ContactEmail string    `json:"contact_email,omitempty"`
	ContactPhone string    `json:"contact_phone,omitempty"`
	Active       bool      `json:"active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Destination is where an order ships to.
type Destination struct {
	Country  string    `json:"country" validate:"required,len=2"`
	Location *GeoPoint `json:"location,omitempty"`
}

// IsDomestic reports whether w ships inside the destination country.
func (d Destination) IsDomestic(w *Warehouse) bool {
	return strings.EqualFold(strings.TrimSpace(d.Country), strings.TrimSpace(w.Country))
}

// DistanceTo returns the distance from w to the destination. ok is false when
// either side has no coordinates.
func (d Destination) DistanceTo(w *Warehouse) (km float64, ok bool) {
	if d.Location == nil || w.Location == nil {
		return 0, false
	}
	return d.Location.DistanceKm(*w.Location), true
}

// RankedWarehouse is a warehouse with its distance to a destination, when
// known.
type RankedWarehouse struct {
	Warehouse  Warehouse `json:"warehouse"`
	DistanceKm *float64  `json:"distance_km,omitempty"`
}

// RankedBefore orders known distances before unknown ones, nearer first,
// then by warehouse id.
func RankedBefore(a, b RankedWarehouse) bool {
	switch {
	case a.DistanceKm != nil && b.DistanceKm == nil:
		return true
	case a.DistanceKm == nil && b.DistanceKm != nil:
		return false
	case a.DistanceKm != nil && *a.DistanceKm != *b.DistanceKm:
		return *a.DistanceKm < *b.DistanceKm
	}
	return a.Warehouse.ID < b.Warehouse.ID
}

// WarehouseRanking is the ordered list of warehouses eligible to serve a
// destination. CrossBorder is set when no warehouse in the destination
// country exists and the list falls back to foreign warehouses.
type WarehouseRanking struct {
	Warehouses  []RankedWarehouse `json:"warehouses"`
	CrossBorder bool              `json:"cross_border"`
}

// IDs returns the warehouse ids in rank order.
func (r *WarehouseRanking) IDs() []string {
	ids := make([]string, len(r.Warehouses))
	for i := range r.Warehouses {
		ids[i] = r.Warehouses[i].Warehouse.ID
	}
	return ids
}
