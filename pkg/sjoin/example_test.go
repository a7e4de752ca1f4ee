package sjoin_test

import (
	"context"
	"fmt"
	"log"

	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/sjoin"
	"github.com/twpayne/go-geom"
)

func Example() {
	// Two community forests, 10 km squares in UTM metres
	forest := func(id string, x, y float64) *models.PolygonFeature {
		mp := geom.NewMultiPolygon(geom.XY)
		ring := []float64{x, y, x + 10000, y, x + 10000, y + 10000, x, y + 10000, x, y}
		if err := mp.Push(geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)})); err != nil {
			log.Fatal(err)
		}
		return &models.PolygonFeature{ID: id, Geometry: mp}
	}
	forests := []*models.PolygonFeature{
		forest("1", 500000, 1300000),
		forest("2", 700000, 1300000),
	}

	clusters := []*models.PointFeature{
		{ID: "KH200000001", Location: models.Location{X: 505000, Y: 1305000}},
		{ID: "KH200000002", Location: models.Location{X: 535000, Y: 1305000}},
		{ID: "KH200000003", Location: models.Location{X: 690000, Y: 1305000}},
	}

	counts, err := sjoin.CountPointsInPolygons(context.Background(), clusters, forests, sjoin.Options{Radius: 20000})
	if err != nil {
		log.Fatal(err)
	}
	for _, id := range counts.IDs() {
		fmt.Printf("forest %s: %d clusters within 20 km\n", id, counts[id])
	}

	refs, err := sjoin.Centroids(forests)
	if err != nil {
		log.Fatal(err)
	}
	nearest, err := sjoin.NearestPoints(refs, clusters)
	if err != nil {
		log.Fatal(err)
	}
	for _, n := range nearest {
		fmt.Printf("forest %s: nearest %s at %.0f m\n", n.RefID, n.NearestID, n.Distance)
	}

	// Output:
	// forest 1: 1 clusters within 20 km
	// forest 2: 1 clusters within 20 km
	// forest 1: nearest KH200000001 at 0 m
	// forest 2: nearest KH200000003 at 15000 m
}
