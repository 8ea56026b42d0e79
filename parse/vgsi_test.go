package parse

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const baseURL = "https://gis.vgsi.com/worcesterma"

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return string(data)
}

func TestParseStreetIndex(t *testing.T) {
	index, err := ParseStreetIndex(loadFixture(t, "streets_index.html"), baseURL)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(index.Streets) != 3 {
		t.Fatalf("expected 3 streets, got %d", len(index.Streets))
	}

	first := index.Streets[0]
	if first.Name != "ABBOTT ST" {
		t.Fatalf("expected ABBOTT ST, got %q", first.Name)
	}
	if first.URL != baseURL+"/Streets.aspx?Name=ABBOTT+ST" {
		t.Fatalf("unexpected street URL %q", first.URL)
	}
	if index.Streets[2].Name != "ADAMS ST" {
		t.Fatalf("expected ADAMS ST, got %q", index.Streets[2].Name)
	}
}

func TestParseStreetIndex_NoStreets(t *testing.T) {
	_, err := ParseStreetIndex("<html><body><p>maintenance</p></body></html>", baseURL)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestParseStreetListing(t *testing.T) {
	listing, err := ParseStreetListing(loadFixture(t, "street_listing.html"), baseURL)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(listing.Properties) != 3 {
		t.Fatalf("expected 3 properties, got %d", len(listing.Properties))
	}
	if listing.NextPageURL != "" {
		t.Fatalf("expected no next page, got %q", listing.NextPageURL)
	}

	first := listing.Properties[0]
	if first.ParcelID != "1001" {
		t.Fatalf("expected parcel 1001, got %q", first.ParcelID)
	}
	if first.Address != "1 ABBOTT ST" {
		t.Fatalf("unexpected address %q", first.Address)
	}
	if first.Location != "Single Family" {
		t.Fatalf("unexpected location %q", first.Location)
	}
	if first.DetailURL != baseURL+"/Parcel.aspx?pid=1001" {
		t.Fatalf("unexpected detail URL %q", first.DetailURL)
	}
}

func TestParseStreetListing_Paginated(t *testing.T) {
	listing, err := ParseStreetListing(loadFixture(t, "street_listing_paged.html"), baseURL)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(listing.Properties) != 2 {
		t.Fatalf("expected 2 properties, got %d", len(listing.Properties))
	}
	if listing.NextPageURL != baseURL+"/Streets.aspx?Name=MAIN+ST&page=2" {
		t.Fatalf("unexpected next page URL %q", listing.NextPageURL)
	}
}

func TestParseStreetListing_NoParcels(t *testing.T) {
	_, err := ParseStreetListing("<html><body><table></table></body></html>", baseURL)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestParseParcelDetail(t *testing.T) {
	detail, err := ParseParcelDetail(loadFixture(t, "parcel_detail.html"), baseURL)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if detail.ParcelID != "1001" {
		t.Fatalf("expected parcel 1001, got %q", detail.ParcelID)
	}
	if detail.Location != "1 ABBOTT ST" {
		t.Fatalf("unexpected location %q", detail.Location)
	}

	var owner map[string]string
	if err := json.Unmarshal(detail.Owner, &owner); err != nil {
		t.Fatalf("owner bag: %v", err)
	}
	if owner["name"] != "DOE JOHN" {
		t.Fatalf("unexpected owner name %q", owner["name"])
	}
	if owner["mailing_address"] != "1 ABBOTT ST" {
		t.Fatalf("unexpected mailing address %q", owner["mailing_address"])
	}

	var building map[string]string
	if err := json.Unmarshal(detail.Building, &building); err != nil {
		t.Fatalf("building bag: %v", err)
	}
	if building["year_built"] != "1925" {
		t.Fatalf("unexpected year built %q", building["year_built"])
	}
	if building["style"] != "Colonial" {
		t.Fatalf("unexpected style %q", building["style"])
	}
	if building["heat_type"] != "Forced Air" {
		t.Fatalf("unexpected heat type %q", building["heat_type"])
	}

	var land map[string]string
	if err := json.Unmarshal(detail.Land, &land); err != nil {
		t.Fatalf("land bag: %v", err)
	}
	if land["zoning"] != "RS-7" {
		t.Fatalf("unexpected zoning %q", land["zoning"])
	}

	var assessment map[string]string
	if err := json.Unmarshal(detail.Assessment, &assessment); err != nil {
		t.Fatalf("assessment bag: %v", err)
	}
	if assessment["total"] != "$350,000" {
		t.Fatalf("unexpected assessment total %q", assessment["total"])
	}

	var sales []map[string]string
	if err := json.Unmarshal(detail.SalesHistory, &sales); err != nil {
		t.Fatalf("sales history: %v", err)
	}
	if len(sales) != 2 {
		t.Fatalf("expected 2 sales, got %d", len(sales))
	}
	if sales[0]["owner"] != "DOE JOHN" || sales[0]["price"] != "$250,000" || sales[0]["date"] != "05/01/2015" {
		t.Fatalf("unexpected first sale %v", sales[0])
	}

	if len(detail.Media) != 2 {
		t.Fatalf("expected 2 media refs, got %d", len(detail.Media))
	}
	if detail.Media[0].Kind != "photo" || detail.Media[0].URL != baseURL+"/photos/1001.jpg" {
		t.Fatalf("unexpected photo ref %+v", detail.Media[0])
	}
	if detail.Media[1].Kind != "layout" || detail.Media[1].URL != baseURL+"/Sketches/1001.png" {
		t.Fatalf("unexpected layout ref %+v", detail.Media[1])
	}
}

func TestParseParcelDetail_Unrecognized(t *testing.T) {
	_, err := ParseParcelDetail("<html><body><h1>Error</h1></body></html>", baseURL)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}
