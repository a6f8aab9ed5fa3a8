package matching

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/ride-session/internal/models"
)

// PointRate converts a base fare into loyalty points.
const PointRate = 0.1

var (
	ErrUnknownStation = errors.New("matching: unknown station")
	ErrSameStation    = errors.New("matching: origin and destination are the same")
)

// Pricing is the static station list and route price table.
type Pricing struct {
	Stations []models.Station `yaml:"stations"`
	Routes   []models.Route   `yaml:"routes"`
}

// DefaultPricing is used when no PRICING_FILE is configured.
func DefaultPricing() *Pricing {
	return &Pricing{
		Stations: []models.Station{
			{ID: 0, Name: "Main Gate", Coord: models.Coord{Lat: 37.2215, Lon: 127.1873}},
			{ID: 1, Name: "Engineering Hall", Coord: models.Coord{Lat: 37.2240, Lon: 127.1868}},
			{ID: 2, Name: "Central Library", Coord: models.Coord{Lat: 37.2229, Lon: 127.1891}},
			{ID: 3, Name: "Dormitory", Coord: models.Coord{Lat: 37.2196, Lon: 127.1832}},
			{ID: 4, Name: "Bus Terminal", Coord: models.Coord{Lat: 37.2347, Lon: 127.2016}},
			{ID: 5, Name: "City Hall Station", Coord: models.Coord{Lat: 37.2410, Lon: 127.1776}},
		},
		Routes: []models.Route{
			{Departure: "Main Gate", Destination: "Engineering Hall", Prices: []int{1200, 1500}},
			{Departure: "Main Gate", Destination: "Central Library", Prices: []int{1100, 1400}},
			{Departure: "Main Gate", Destination: "Dormitory", Prices: []int{1300, 1600}},
			{Departure: "Main Gate", Destination: "Bus Terminal", Prices: []int{3800, 4500}},
			{Departure: "Main Gate", Destination: "City Hall Station", Prices: []int{4200, 5000}},
			{Departure: "Engineering Hall", Destination: "Dormitory", Prices: []int{1500, 1800}},
			{Departure: "Central Library", Destination: "Dormitory", Prices: []int{1400, 1700}},
			{Departure: "Dormitory", Destination: "Bus Terminal", Prices: []int{4100, 4900}},
			{Departure: "Bus Terminal", Destination: "City Hall Station", Prices: []int{3500, 4200}},
		},
	}
}

// LoadPricing reads a YAML pricing file.
func LoadPricing(path string) (*Pricing, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing %s: %w", path, err)
	}
	var p Pricing
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse pricing %s: %w", path, err)
	}
	if len(p.Stations) == 0 {
		return nil, fmt.Errorf("pricing %s: no stations", path)
	}
	return &p, nil
}

func (p *Pricing) Station(id int) (models.Station, bool) {
	for _, s := range p.Stations {
		if s.ID == id {
			return s, true
		}
	}
	return models.Station{}, false
}

// Route finds the route between two named stations in either direction.
func (p *Pricing) Route(a, b string) (models.Route, bool) {
	for _, r := range p.Routes {
		if (r.Departure == a && r.Destination == b) || (r.Departure == b && r.Destination == a) {
			return r, true
		}
	}
	return models.Route{}, false
}

// Points is the settlement for a ride between two station ids: the route's
// base fare times PointRate, rounded down. Unknown stations or routes
// settle to zero.
func (p *Pricing) Points(origin, destination int) int {
	from, ok := p.Station(origin)
	if !ok {
		return 0
	}
	to, ok := p.Station(destination)
	if !ok {
		return 0
	}
	r, ok := p.Route(from.Name, to.Name)
	if !ok || len(r.Prices) == 0 {
		return 0
	}
	return int(math.Floor(float64(r.Prices[0]) * PointRate))
}

// Validate checks a requested station pair.
func (p *Pricing) Validate(origin, destination int) error {
	if origin == destination {
		return ErrSameStation
	}
	if _, ok := p.Station(origin); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStation, origin)
	}
	if _, ok := p.Station(destination); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStation, destination)
	}
	return nil
}
