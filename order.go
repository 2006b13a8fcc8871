package binpick

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WorkOrder names one product to pick out of one bin.
type WorkOrder struct {
	Bin  string `json:"bin"`
	Item string `json:"item"`
}

// orderFile is the on-disk order format: the full contents of every bin plus
// the ordered list of picks.
type orderFile struct {
	BinContents map[string][]string `json:"bin_contents"`
	WorkOrder   []WorkOrder         `json:"work_order"`
}

// ParseOrders stocks the shelf from the bin contents and resolves the work
// order against them. An order naming an unknown bin, or an item the bin does
// not hold, is a parse error.
func ParseOrders(data []byte, shelf *Shelf) ([]WorkOrder, error) {
	var file orderFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parsing order JSON")
	}

	for binName, items := range file.BinContents {
		if err := shelf.StockBin(binName, items); err != nil {
			return nil, errors.Wrap(err, "stocking shelf")
		}
	}

	for i, order := range file.WorkOrder {
		if _, _, err := shelf.FindProduct(order.Bin, order.Item); err != nil {
			return nil, errors.Wrapf(err, "work order entry %d", i)
		}
	}
	return file.WorkOrder, nil
}

// LoadOrders reads and parses an order file. Relative paths resolve against
// VIAM_MODULE_DATA when running as a module.
func LoadOrders(path string, shelf *Shelf) ([]WorkOrder, error) {
	if !filepath.IsAbs(path) {
		if moduleDataDir := os.Getenv("VIAM_MODULE_DATA"); moduleDataDir != "" {
			path = filepath.Join(moduleDataDir, path)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading order file")
	}
	return ParseOrders(data, shelf)
}
