package matching

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPointsSymmetric(t *testing.T) {
	p := DefaultPricing()
	for _, a := range p.Stations {
		for _, b := range p.Stations {
			if p.Points(a.ID, b.ID) != p.Points(b.ID, a.ID) {
				t.Fatalf("asymmetric settlement for %s <-> %s", a.Name, b.Name)
			}
		}
	}
	if got := p.Points(0, 1); got != 120 {
		t.Fatalf("expected 120 points for Main Gate <-> Engineering Hall, got %d", got)
	}
	if got := p.Points(1, 0); got != 120 {
		t.Fatalf("expected reverse lookup to match, got %d", got)
	}
	if got := p.Points(1, 2); got != 0 {
		t.Fatalf("unpriced route should settle to zero, got %d", got)
	}
	if got := p.Points(0, 42); got != 0 {
		t.Fatalf("unknown station should settle to zero, got %d", got)
	}
}

func TestValidate(t *testing.T) {
	p := DefaultPricing()
	if err := p.Validate(0, 4); err != nil {
		t.Fatalf("valid pair rejected: %v", err)
	}
	if err := p.Validate(2, 2); !errors.Is(err, ErrSameStation) {
		t.Fatalf("expected ErrSameStation, got %v", err)
	}
	if err := p.Validate(0, 99); !errors.Is(err, ErrUnknownStation) {
		t.Fatalf("expected ErrUnknownStation, got %v", err)
	}
}

func TestLoadPricing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	doc := `stations:
  - id: 10
    name: North
    coordinate: {latitude: 37.1, longitude: 127.1}
  - id: 11
    name: South
    coordinate: {latitude: 37.0, longitude: 127.0}
routes:
  - departure: South
    destination: North
    price: [2599, 3000]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPricing(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := p.Points(10, 11); got != 259 {
		t.Fatalf("expected floor(2599*0.1)=259, got %d", got)
	}
	if s, ok := p.Station(10); !ok || s.Coord.Lat != 37.1 {
		t.Fatalf("station not decoded: %+v", s)
	}
	if _, err := LoadPricing(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
