package binpick

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleOrderJSON = `{
  "bin_contents": {
    "bin_A": ["oreo_mega_stuf", "champion_copper_plus_spark_plug"],
    "bin_B": ["expo_dry_erase_board_eraser"]
  },
  "work_order": [
    {"bin": "bin_A", "item": "oreo_mega_stuf"},
    {"bin": "bin_B", "item": "expo_dry_erase_board_eraser"}
  ]
}`

func TestParseOrders(t *testing.T) {
	shelf := NewShelf(nil)

	orders, err := ParseOrders([]byte(sampleOrderJSON), shelf)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 work orders, got %d", len(orders))
	}
	if orders[0].Bin != "bin_A" || orders[0].Item != "oreo_mega_stuf" {
		t.Fatalf("first order wrong: %+v", orders[0])
	}

	// Parsing stocks the shelf: every listed product must be findable.
	if _, _, err := shelf.FindProduct("bin_A", "champion_copper_plus_spark_plug"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := shelf.FindProduct("bin_B", "expo_dry_erase_board_eraser"); err != nil {
		t.Fatal(err)
	}
}

func TestParseOrdersUnknownBin(t *testing.T) {
	data := `{"bin_contents": {"bin_Q": ["soap"]}, "work_order": []}`
	if _, err := ParseOrders([]byte(data), NewShelf(nil)); err == nil {
		t.Fatal("expected an error for contents in an unknown bin")
	}
}

func TestParseOrdersUnstockedItem(t *testing.T) {
	data := `{
	  "bin_contents": {"bin_A": ["soap"]},
	  "work_order": [{"bin": "bin_A", "item": "crayons"}]
	}`
	if _, err := ParseOrders([]byte(data), NewShelf(nil)); err == nil {
		t.Fatal("expected an error for an order the bin cannot satisfy")
	}
}

func TestParseOrdersMalformedJSON(t *testing.T) {
	if _, err := ParseOrders([]byte("{nope"), NewShelf(nil)); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoadOrders(t *testing.T) {
	t.Run("reads a file on disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "order.json")
		if err := os.WriteFile(path, []byte(sampleOrderJSON), 0o644); err != nil {
			t.Fatal(err)
		}

		orders, err := LoadOrders(path, NewShelf(nil))
		if err != nil {
			t.Fatal(err)
		}
		if len(orders) != 2 {
			t.Fatalf("expected 2 work orders, got %d", len(orders))
		}
	})

	t.Run("resolves relative paths against VIAM_MODULE_DATA", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "order.json"), []byte(sampleOrderJSON), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("VIAM_MODULE_DATA", dir)

		if _, err := LoadOrders("order.json", NewShelf(nil)); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadOrders(filepath.Join(t.TempDir(), "absent.json"), NewShelf(nil)); err == nil {
			t.Fatal("expected an error for a missing file")
		}
	})
}
