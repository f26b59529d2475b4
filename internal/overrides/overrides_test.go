package overrides

import (
	"errors"
	"testing"

	"github.com/JonMunkholm/stockfeed/internal/inventory"
)

func sampleRecords() []inventory.Record {
	alt := 2
	return []inventory.Record{
		{ID: "A", SKU: "A", Name: "Wheel", Category: "BMW", Quantity: 5, Status: inventory.StatusLowStock, Price: 10, Raw: map[string]string{"SKU": "A"}},
		{ID: "B", SKU: "B", Name: "Hood", Category: "Audi", Quantity: 0, Status: inventory.StatusOutOfStock, AltQuantity: &alt, ETAs: []string{"3/1"}, ETA: "3/1"},
		{ID: "C", SKU: "C", Name: "Rim", Category: "VW", Quantity: 9, Status: inventory.StatusInStock, ImageURL: "https://img.test/c.png"},
	}
}

func TestApply(t *testing.T) {
	records := sampleRecords()
	ovs := []Override{
		{ItemID: "B", Hidden: true},
		{ItemID: "A", HiddenFields: []string{FieldQuantity, FieldPrice}, ImageURL: "https://img.test/a.png"},
		{ItemID: "C", ImageURL: "not a url"},
		{ItemID: "missing", Hidden: true},
	}

	got := Apply(records, ovs)

	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].ID != "A" || got[1].ID != "C" {
		t.Fatalf("ids = %s, %s", got[0].ID, got[1].ID)
	}

	a := got[0]
	if a.Quantity != 0 || a.Price != 0 {
		t.Errorf("hidden fields not blanked: %+v", a)
	}
	if a.Status != inventory.StatusLowStock {
		t.Errorf("Status = %q, want status kept from real quantity", a.Status)
	}
	if a.ImageURL != "https://img.test/a.png" {
		t.Errorf("ImageURL = %q, want override", a.ImageURL)
	}
	if len(a.Raw) != 0 {
		t.Errorf("Raw = %v, want cleared", a.Raw)
	}

	if got[1].ImageURL != "https://img.test/c.png" {
		t.Errorf("relative image override should be ignored, got %q", got[1].ImageURL)
	}

	// the input records are untouched
	if records[0].Quantity != 5 || records[0].Price != 10 || records[0].Raw["SKU"] != "A" {
		t.Errorf("Apply mutated the input: %+v", records[0])
	}
	if records[0].ImageURL != "" {
		t.Errorf("Apply mutated the input image: %q", records[0].ImageURL)
	}
}

func TestApply_NoOverrides(t *testing.T) {
	records := sampleRecords()
	got := Apply(records, nil)
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i := range got {
		if got[i].ID != records[i].ID {
			t.Errorf("record %d = %s, want %s", i, got[i].ID, records[i].ID)
		}
	}
}

func TestRedact_AllFields(t *testing.T) {
	rec := sampleRecords()[1]
	o := Override{ItemID: "B"}
	for f := range hideableFields {
		o.HiddenFields = append(o.HiddenFields, f)
	}

	got := Redact([]inventory.Record{rec}, Index([]Override{o}))[0]
	if got.SKU != "" || got.Name != "" || got.Category != "" || got.AltQuantity != nil || got.ETA != "" || len(got.ETAs) != 0 {
		t.Errorf("fields not blanked: %+v", got)
	}
	if got.ID != "B" {
		t.Errorf("ID must survive redaction, got %q", got.ID)
	}
	if rec.AltQuantity == nil || rec.ETA != "3/1" {
		t.Error("Redact mutated the input record")
	}
}

func TestOverride_Validate(t *testing.T) {
	tests := []struct {
		name    string
		o       Override
		wantErr bool
	}{
		{"valid", Override{ItemID: "X", HiddenFields: []string{FieldPrice}, ImageURL: "https://x.test/a.png"}, false},
		{"hide row only", Override{ItemID: "X", Hidden: true}, false},
		{"missing id", Override{ItemID: " "}, true},
		{"unknown field", Override{ItemID: "X", HiddenFields: []string{"colour"}}, true},
		{"relative image", Override{ItemID: "X", ImageURL: "/img/a.png"}, true},
		{"ftp image", Override{ItemID: "X", ImageURL: "ftp://x.test/a.png"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.o.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOverride) {
				t.Errorf("error %v does not wrap ErrInvalidOverride", err)
			}
		})
	}
}

func TestOverride_HidesField(t *testing.T) {
	o := Override{HiddenFields: []string{FieldName}}
	if !o.HidesField(FieldName) || o.HidesField(FieldSKU) {
		t.Errorf("HidesField mismatch for %v", o.HiddenFields)
	}
}
