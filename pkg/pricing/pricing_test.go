package pricing

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/shelf-checkout/pkg/types"
)

func decisions(labels ...string) types.DecisionSet {
	ds := make(types.DecisionSet)
	for _, l := range labels {
		ds[l] = types.NewLabelDecision(types.Detection{Label: l, Score: 0.5, Box: types.Box{XMax: 1, YMax: 1}})
	}
	return ds
}

func TestPriceTwoItems(t *testing.T) {
	catalog := MustCatalog([]CatalogEntry{{Label: "A", Price: 150}, {Label: "B", Price: 99}})

	receipt, err := Price(decisions("A", "B"), catalog)
	if err != nil {
		t.Fatalf("Price failed: %v", err)
	}

	if diff := cmp.Diff(map[string]int{"A": 1, "B": 1}, receipt.Items); diff != "" {
		t.Errorf("Items mismatch (-want +got):\n%s", diff)
	}
	if receipt.Total != 249 {
		t.Errorf("Expected total 249 cents, got %d", receipt.Total)
	}
	if receipt.Total.String() != "2.49" {
		t.Errorf("Expected 2.49, got %s", receipt.Total)
	}
}

func TestPriceUnknownLabel(t *testing.T) {
	catalog := MustCatalog([]CatalogEntry{{Label: "A", Price: 150}})

	_, err := Price(decisions("Mystery Item"), catalog)
	if err == nil {
		t.Fatal("Expected an error for an unknown label")
	}

	var unknown *UnknownLabelError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownLabelError, got %T", err)
	}
	if unknown.Label != "Mystery Item" {
		t.Errorf("Expected label Mystery Item, got %q", unknown.Label)
	}
	if !errors.Is(err, ErrUnknownLabel) {
		t.Error("Expected errors.Is to match ErrUnknownLabel")
	}
}

func TestPriceEmpty(t *testing.T) {
	receipt, err := Price(types.DecisionSet{}, MustCatalog(DefaultEntries()))
	if err != nil {
		t.Fatalf("Price failed: %v", err)
	}
	if receipt.Total.String() != "0.00" || len(receipt.Items) != 0 || len(receipt.Lines) != 0 {
		t.Errorf("Expected empty receipt, got %+v", receipt)
	}
}

func TestPriceLinesFollowCatalogOrder(t *testing.T) {
	catalog := MustCatalog(DefaultEntries())

	receipt, err := Price(decisions("Banana", "Croissant", "Colgate Toothpaste"), catalog)
	if err != nil {
		t.Fatalf("Price failed: %v", err)
	}

	var got []string
	for _, l := range receipt.Lines {
		got = append(got, l.Label)
	}
	want := []string{"Colgate Toothpaste", "Croissant", "Banana"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Line order mismatch (-want +got):\n%s", diff)
	}
	if receipt.Total.String() != "4.95" {
		t.Errorf("Expected 4.95, got %s", receipt.Total)
	}
}

func TestPriceNoDrift(t *testing.T) {
	entries := make([]CatalogEntry, 0, 10)
	labels := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		l := string(rune('a' + i))
		entries = append(entries, CatalogEntry{Label: l, Price: FromFloat(0.1)})
		labels = append(labels, l)
	}
	receipt, err := Price(decisions(labels...), MustCatalog(entries))
	if err != nil {
		t.Fatalf("Price failed: %v", err)
	}
	if receipt.Total != 100 {
		t.Errorf("Expected exactly 100 cents, got %d", receipt.Total)
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{"1.50", 150, false},
		{"1.5", 150, false},
		{"0.99", 99, false},
		{"3", 300, false},
		{".5", 50, false},
		{" 12.34 ", 1234, false},
		{"", 0, true},
		{"-1.00", 0, true},
		{"1.234", 0, true},
		{"1.", 0, true},
		{"abc", 0, true},
		{"1.+5", 0, true},
		{"2.-0", 0, true},
		{"+1.00", 100, false},
		{"1.5 ", 150, false},
		{"1_0.00", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseMoney(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMoney(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMoney(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMoney(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMoneyJSON(t *testing.T) {
	var entries []CatalogEntry
	data := []byte(`[{"label":"A","price":1.50},{"label":"B","price":"0.99"}]`)
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if entries[0].Price != 150 || entries[1].Price != 99 {
		t.Errorf("Unexpected prices: %+v", entries)
	}

	out, err := json.Marshal(entries[0])
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != `{"label":"A","price":"1.50"}` {
		t.Errorf("Unexpected JSON: %s", out)
	}
}

func TestNewCatalogValidation(t *testing.T) {
	if _, err := NewCatalog([]CatalogEntry{{Label: "A", Price: 1}, {Label: "A", Price: 2}}); err == nil {
		t.Error("Expected duplicate label error")
	}
	if _, err := NewCatalog([]CatalogEntry{{Label: "", Price: 1}}); err == nil {
		t.Error("Expected empty label error")
	}

	c, err := NewCatalog(nil)
	if err != nil {
		t.Fatalf("Empty catalog should be valid: %v", err)
	}
	if len(c.Labels()) != 0 {
		t.Errorf("Expected no labels, got %v", c.Labels())
	}
}

func TestCatalogLabelsOrder(t *testing.T) {
	c := MustCatalog(DefaultEntries())
	want := []string{"Dairy Milk Snack Bar", "Colgate Toothpaste", "Cup Noodle Container", "Croissant", "Banana"}
	if diff := cmp.Diff(want, c.Labels()); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}
	if p, ok := c.Lookup("Banana"); !ok || p.String() != "1.20" {
		t.Errorf("Expected Banana at 1.20, got %s (%v)", p, ok)
	}
}
