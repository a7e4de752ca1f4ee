package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

func keyed(t *testing.T, id, s string) Keyed {
	t.Helper()
	g, err := wkt.Unmarshal(s)
	require.NoError(t, err)
	return Keyed{ID: id, Geometry: g}
}

func TestFindDuplicates(t *testing.T) {
	a := "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0))"
	aNoise := "POLYGON ((0.01 0, 10 0.02, 10 10, 0 10, 0.01 0))"
	b := "POLYGON ((100 100, 110 100, 110 110, 100 110, 100 100))"

	t.Run("unique list", func(t *testing.T) {
		dups, err := FindDuplicates([]Keyed{keyed(t, "1", a), keyed(t, "2", b)}, DefaultDecimal)
		require.NoError(t, err)
		assert.Empty(t, dups)
	})

	t.Run("k repeats flag k-1", func(t *testing.T) {
		items := []Keyed{
			keyed(t, "1", a),
			keyed(t, "2", b),
			keyed(t, "3", a),
			keyed(t, "4", aNoise),
		}
		dups, err := FindDuplicates(items, DefaultDecimal)
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "4"}, dups)
	})

	t.Run("precision matters", func(t *testing.T) {
		dups, err := FindDuplicates([]Keyed{keyed(t, "1", a), keyed(t, "2", aNoise)}, 2)
		require.NoError(t, err)
		assert.Empty(t, dups)
	})

	t.Run("type mismatch is not equal", func(t *testing.T) {
		mp := geom.NewMultiPolygon(geom.XY)
		p, err := wkt.Unmarshal(a)
		require.NoError(t, err)
		require.NoError(t, mp.Push(p.(*geom.Polygon)))
		dups, err := FindDuplicates([]Keyed{{ID: "1", Geometry: p}, {ID: "2", Geometry: mp}}, DefaultDecimal)
		require.NoError(t, err)
		assert.Empty(t, dups)
	})

	t.Run("ring structure differs", func(t *testing.T) {
		holed := "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0), (4 4, 6 4, 6 6, 4 6, 4 4))"
		assert.False(t, AlmostEqual(keyed(t, "1", a).Geometry, keyed(t, "2", holed).Geometry, 1))
	})

	t.Run("points", func(t *testing.T) {
		items := []Keyed{
			{ID: "p1", Geometry: geom.NewPointFlat(geom.XY, []float64{1.01, 2})},
			{ID: "p2", Geometry: geom.NewPointFlat(geom.XY, []float64{1.04, 2})},
		}
		dups, err := FindDuplicates(items, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"p2"}, dups)
	})

	t.Run("negative decimal rejected", func(t *testing.T) {
		_, err := FindDuplicates(nil, -1)
		assert.Error(t, err)
	})

	t.Run("empty input", func(t *testing.T) {
		dups, err := FindDuplicates(nil, DefaultDecimal)
		require.NoError(t, err)
		assert.Empty(t, dups)
	})
}
