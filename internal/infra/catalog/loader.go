package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"gopkg.in/yaml.v3"

	"github.com/fog-of-explore/explore/internal/domain"
)

// ─── Catalog Files ──────────────────────────────────────────────────────────

// fileCatalog is the YAML catalog document. Multipliers and thresholds are
// optional and default to the built-in tables.
type fileCatalog struct {
	Locations   []domain.Location           `yaml:"locations"`
	Multipliers map[domain.Category]float64 `yaml:"multipliers"`
	Thresholds  []domain.LevelThreshold     `yaml:"thresholds"`
}

// LoadFile reads a catalog from disk, choosing a decoder by file extension:
// .yaml/.yml, .geojson/.json, or .shp.
func LoadFile(path string, rules Rules) (*Catalog, error) {
	var (
		fc  fileCatalog
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		fc, err = decodeYAML(path)
	case ".geojson", ".json":
		fc.Locations, err = decodeGeoJSON(path)
	case ".shp":
		fc.Locations, err = decodeShapefile(path)
	default:
		return nil, eris.Wrapf(domain.ErrInvalidCatalog, "catalog: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(fc.Thresholds) == 0 {
		fc.Thresholds = DefaultThresholds()
	}
	mult := DefaultMultipliers()
	for cat, m := range fc.Multipliers {
		mult[cat] = m
	}
	return New(fc.Locations, mult, fc.Thresholds, rules)
}

func decodeYAML(path string) (fileCatalog, error) {
	var fc fileCatalog
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, eris.Wrap(err, "catalog: read yaml")
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, eris.Wrapf(domain.ErrInvalidCatalog, "catalog: parse yaml: %v", err)
	}
	return fc, nil
}

// ─── GeoJSON ────────────────────────────────────────────────────────────────

func decodeGeoJSON(path string) ([]domain.Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read geojson")
	}
	var coll geojson.FeatureCollection
	if err := json.Unmarshal(data, &coll); err != nil {
		return nil, eris.Wrapf(domain.ErrInvalidCatalog, "catalog: parse geojson: %v", err)
	}

	locs := make([]domain.Location, 0, len(coll.Features))
	for i, f := range coll.Features {
		pt, ok := f.Geometry.(*geom.Point)
		if !ok {
			return nil, eris.Wrapf(domain.ErrInvalidCatalog, "catalog: feature %d is not a point", i)
		}
		loc := domain.Location{
			Longitude:   pt.X(),
			Latitude:    pt.Y(),
			Name:        propString(f.Properties, "name"),
			Description: propString(f.Properties, "description"),
			BasePoints:  int64(propFloat(f.Properties, "points")),
			Category:    domain.Category(propString(f.Properties, "category")),
			VisitRadius: propFloat(f.Properties, "radius"),
		}
		switch {
		case f.Properties["id"] != nil:
			loc.ID = int(propFloat(f.Properties, "id"))
		case f.ID != "":
			id, err := strconv.Atoi(f.ID)
			if err != nil {
				return nil, eris.Wrapf(domain.ErrInvalidCatalog, "catalog: feature %d has non-numeric id %q", i, f.ID)
			}
			loc.ID = id
		default:
			return nil, eris.Wrapf(domain.ErrInvalidCatalog, "catalog: feature %d has no id", i)
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func propString(props map[string]interface{}, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func propFloat(props map[string]interface{}, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// ─── Shapefile ──────────────────────────────────────────────────────────────

// decodeShapefile reads a point shapefile with attribute columns ID, NAME,
// DESC, POINTS, CATEGORY and RADIUS.
func decodeShapefile(path string) ([]domain.Location, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	idIdx := fieldIndex(reader, "ID")
	nameIdx := fieldIndex(reader, "NAME")
	descIdx := fieldIndex(reader, "DESC")
	pointsIdx := fieldIndex(reader, "POINTS")
	catIdx := fieldIndex(reader, "CATEGORY")
	radiusIdx := fieldIndex(reader, "RADIUS")
	if idIdx < 0 || nameIdx < 0 || pointsIdx < 0 || catIdx < 0 || radiusIdx < 0 {
		return nil, eris.Wrap(domain.ErrInvalidCatalog, "catalog: required shapefile fields (ID, NAME, POINTS, CATEGORY, RADIUS) not found")
	}

	var locs []domain.Location
	for reader.Next() {
		n, shape := reader.Shape()
		pt, ok := shape.(*shp.Point)
		if !ok {
			return nil, eris.Wrapf(domain.ErrInvalidCatalog, "catalog: shape %d is not a point", n)
		}
		id, err := strconv.Atoi(attr(reader, idIdx))
		if err != nil {
			return nil, eris.Wrapf(domain.ErrInvalidCatalog, "catalog: shape %d has invalid id", n)
		}
		points, _ := strconv.ParseFloat(attr(reader, pointsIdx), 64)
		radius, _ := strconv.ParseFloat(attr(reader, radiusIdx), 64)
		loc := domain.Location{
			ID:          id,
			Name:        attr(reader, nameIdx),
			Longitude:   pt.X,
			Latitude:    pt.Y,
			BasePoints:  int64(points),
			Category:    domain.Category(attr(reader, catIdx)),
			VisitRadius: radius,
		}
		if descIdx >= 0 {
			loc.Description = attr(reader, descIdx)
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func attr(reader *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}
