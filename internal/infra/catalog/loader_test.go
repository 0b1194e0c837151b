package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/fog-of-explore/explore/internal/domain"
)

const yamlCatalog = `
locations:
  - id: 1
    name: Observatory
    description: Stars after dark
    latitude: 51.4779
    longitude: -0.0015
    points: 40
    category: academic
    radius: 25
  - id: 2
    name: Boathouse
    latitude: 51.4800
    longitude: -0.0100
    points: 10
    category: recreation
    radius: 40
multipliers:
  academic: 2.0
thresholds:
  - {level: 1, min_points: 0}
  - {level: 2, min_points: 50}
`

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlCatalog), 0o644))

	c, err := LoadFile(path, DefaultRules())
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	obs, ok := c.Location(1)
	require.True(t, ok)
	assert.Equal(t, "Observatory", obs.Name)
	assert.Equal(t, int64(40), obs.BasePoints)
	assert.Equal(t, 2.0, c.MultiplierFor(domain.CategoryAcademic))
	assert.Equal(t, 1.1, c.MultiplierFor(domain.CategoryRecreation), "unlisted categories keep defaults")
	assert.Equal(t, 2, c.MaxLevel())
	assert.Equal(t, 2, c.LevelFor(50))
}

func TestLoadFile_YAMLInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("locations: [ {id: 1, radius: 0} ]"), 0o644))

	_, err := LoadFile(path, DefaultRules())
	require.Error(t, err)
	assert.True(t, eris.Is(err, domain.ErrInvalidCatalog))
}

func TestLoadFile_GeoJSON(t *testing.T) {
	coll := geojson.FeatureCollection{
		Features: []*geojson.Feature{
			{
				Geometry: geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{-74.0060, 40.7128}),
				Properties: map[string]interface{}{
					"id": 1, "name": "Library", "points": 50, "category": "academic", "radius": 30,
				},
			},
			{
				ID:       "2",
				Geometry: geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{-74.0055, 40.7130}),
				Properties: map[string]interface{}{
					"name": "Student Center", "points": 30, "category": "social", "radius": 25,
				},
			},
		},
	}
	data, err := json.Marshal(&coll)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "campus.geojson")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c, err := LoadFile(path, DefaultRules())
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	lib, ok := c.Location(1)
	require.True(t, ok)
	assert.InDelta(t, 40.7128, lib.Latitude, 1e-9)
	assert.InDelta(t, -74.0060, lib.Longitude, 1e-9)
	assert.Equal(t, domain.CategoryAcademic, lib.Category)

	sc, ok := c.Location(2)
	require.True(t, ok)
	assert.Equal(t, "Student Center", sc.Name)
	assert.Equal(t, int64(12000), c.Thresholds()[len(c.Thresholds())-1].MinPoints, "thresholds default when absent")
}

func TestLoadFile_GeoJSONRejectsPolygons(t *testing.T) {
	poly := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
	coll := geojson.FeatureCollection{Features: []*geojson.Feature{
		{ID: "1", Geometry: poly, Properties: map[string]interface{}{"radius": 10}},
	}}
	data, err := json.Marshal(&coll)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "poly.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = LoadFile(path, DefaultRules())
	assert.True(t, eris.Is(err, domain.ErrInvalidCatalog))
}

func TestLoadFile_Shapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campus.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)

	fields := []shp.Field{
		shp.NumberField("ID", 6),
		shp.StringField("NAME", 40),
		shp.StringField("DESC", 80),
		shp.NumberField("POINTS", 6),
		shp.StringField("CATEGORY", 16),
		shp.NumberField("RADIUS", 6),
	}
	w.SetFields(fields)

	rows := []struct {
		id     int
		name   string
		lon    float64
		lat    float64
		points int
		cat    string
		radius int
	}{
		{1, "Library", -74.0060, 40.7128, 50, "academic", 30},
		{2, "Arts", -74.0050, 40.7120, 45, "arts", 30},
	}
	for i, r := range rows {
		w.Write(&shp.Point{X: r.lon, Y: r.lat})
		w.WriteAttribute(i, 0, r.id)
		w.WriteAttribute(i, 1, r.name)
		w.WriteAttribute(i, 2, "sample")
		w.WriteAttribute(i, 3, r.points)
		w.WriteAttribute(i, 4, r.cat)
		w.WriteAttribute(i, 5, r.radius)
	}
	w.Close()

	// go-shp's writer names the attribute table "campusdbf"; the reader
	// expects "campus.dbf".
	base := strings.TrimSuffix(path, ".shp")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))

	c, err := LoadFile(path, DefaultRules())
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	arts, ok := c.Location(2)
	require.True(t, ok)
	assert.Equal(t, "Arts", arts.Name)
	assert.Equal(t, "sample", arts.Description)
	assert.Equal(t, int64(45), arts.BasePoints)
	assert.Equal(t, domain.CategoryArts, arts.Category)
	assert.InDelta(t, 40.7120, arts.Latitude, 1e-9)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), DefaultRules())
	assert.Error(t, err)

	_, err = LoadFile("catalog.txt", DefaultRules())
	assert.True(t, eris.Is(err, domain.ErrInvalidCatalog))
}
