package filetemplate

import (
	"errors"
	"strings"
	"testing"

	"labrun/pkg/domain"
)

func TestParseKeyedRows(t *testing.T) {
	tpl := Template{Name: "dilution.csv", IdentifierColumns: []string{"product"}, Columns: []string{"Volume"}}
	rows, err := tpl.Parse(strings.NewReader("product,Volume,Note\nP1,10,ok\nP2,20,\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows["P1"]["Volume"] != "10" || rows["P1"]["Note"] != "ok" {
		t.Fatalf("unexpected row: %+v", rows["P1"])
	}
	if _, ok := rows["P1"]["product"]; ok {
		t.Fatal("identifier column must not appear as a value")
	}
}

func TestParseCompositeIdentifier(t *testing.T) {
	tpl := Template{Name: "wells.csv", IdentifierColumns: []string{"product", "run"}}
	rows, err := tpl.Parse(strings.NewReader("product,run,Volume\nP1,7,5\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := rows["P1/7"]; !ok {
		t.Fatalf("expected composite key, got %v", rows)
	}
}

func TestParseBadHeaders(t *testing.T) {
	tpl := Template{Name: "dilution.csv", IdentifierColumns: []string{"product"}, Columns: []string{"Volume"}}
	_, err := tpl.Parse(strings.NewReader("name,Amount\nP1,10\n"))
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(verr.Message, "dilution.csv") {
		t.Fatalf("error should name the file: %q", verr.Message)
	}
}

func TestMergeIntoIgnoresUnknownKeys(t *testing.T) {
	data := map[string]map[string]string{
		"P1": {"Volume": "1"},
	}
	MergeInto(map[string]RowData{
		"P1": {"Volume": "10"},
		"P9": {"Volume": "99"},
	}, data)
	if data["P1"]["Volume"] != "10" {
		t.Fatalf("expected merged value, got %q", data["P1"]["Volume"])
	}
	if _, ok := data["P9"]; ok {
		t.Fatal("unknown keys must be ignored")
	}
}
