package rtree

import (
	"encoding/gob"
	"os"

	"github.com/kass/cf-poverty/pkg/models"
	"github.com/rotisserie/eris"
)

// IndexData represents the serializable form of the index
type IndexData struct {
	Points []*models.PointFeature `json:"points"`
	Count  int64                  `json:"count"`
}

// SaveToFile saves the indexed points, in insertion order, to a gob file
func (g *GeoIndex) SaveToFile(filename string) error {
	data := IndexData{
		Points: g.Points(),
		Count:  g.itemCount.Load(),
	}

	file, err := os.Create(filename)
	if err != nil {
		return eris.Wrap(err, "rtree: create snapshot")
	}
	defer file.Close()

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(data); err != nil {
		return eris.Wrap(err, "rtree: encode snapshot")
	}

	return nil
}

// LoadFromFile replaces the index contents with a snapshot written by SaveToFile
func (g *GeoIndex) LoadFromFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return eris.Wrap(err, "rtree: open snapshot")
	}
	defer file.Close()

	var data IndexData
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&data); err != nil {
		return eris.Wrap(err, "rtree: decode snapshot")
	}
	if int64(len(data.Points)) != data.Count {
		return eris.Errorf("rtree: snapshot holds %d points, header says %d", len(data.Points), data.Count)
	}

	// Clear existing index and rebuild
	g.Clear()
	if err := g.IndexPoints(data.Points); err != nil {
		return eris.Wrap(err, "rtree: index snapshot points")
	}

	return nil
}
