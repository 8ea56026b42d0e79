// Package parse extracts typed payloads from VGSI (gis.vgsi.com) pages.
// The pipeline treats these functions as its page-parsing collaborator:
// each returns a structured payload or an error wrapping ErrParse,
// which the stage runners record as a soft failure.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrParse marks a page whose structure could not be recognized.
// Retrying will not fix a structural mismatch, so these are never
// retried.
var ErrParse = errors.New("page structure not recognized")

// StreetLink is one street discovered on the alphabetical index.
type StreetLink struct {
	Name string
	URL  string
}

// StreetIndex is the payload of one index page (one letter).
type StreetIndex struct {
	Streets []StreetLink
}

// PropertyLink is one parcel row on a street listing page.
type PropertyLink struct {
	ParcelID  string
	Address   string
	Location  string
	DetailURL string
}

// StreetListing is the payload of one street's listing page.
type StreetListing struct {
	Properties  []PropertyLink
	NextPageURL string
}

// MediaRef is a photo or sketch URL discovered on a detail page.
type MediaRef struct {
	URL  string
	Kind string // photo, layout
}

// ParcelDetail is the payload of a Parcel.aspx page. The attribute
// bags are marshaled maps; the pipeline stores them opaquely.
type ParcelDetail struct {
	ParcelID     string
	Address      string
	Location     string
	Owner        json.RawMessage
	Building     json.RawMessage
	Land         json.RawMessage
	Assessment   json.RawMessage
	SalesHistory json.RawMessage
	Media        []MediaRef
}

func newDoc(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return doc, nil
}

// ParseStreetIndex extracts street links from one page of the
// alphabetical Streets.aspx index.
func ParseStreetIndex(html, baseURL string) (*StreetIndex, error) {
	doc, err := newDoc(html)
	if err != nil {
		return nil, err
	}

	// ASP.NET GridView patterns used across VGSI towns.
	selectors := []string{
		"#MainContent_grdStreets a",
		"#ctl00_MainContent_grdStreets a",
		"table a[href*='Street']",
		"a[href*='Results.aspx']",
	}

	seen := make(map[string]bool)
	var streets []StreetLink
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			name := strings.TrimSpace(s.Text())
			href, ok := s.Attr("href")
			if !ok || !isStreetName(name) || seen[name] {
				return
			}
			seen[name] = true
			streets = append(streets, StreetLink{
				Name: name,
				URL:  resolveURL(baseURL, href),
			})
		})
		if len(streets) > 0 {
			break
		}
	}

	if len(streets) == 0 {
		return nil, fmt.Errorf("%w: no street links found", ErrParse)
	}
	return &StreetIndex{Streets: streets}, nil
}

// ParseStreetListing extracts parcel rows from a street's listing page.
func ParseStreetListing(html, baseURL string) (*StreetListing, error) {
	doc, err := newDoc(html)
	if err != nil {
		return nil, err
	}

	listing := &StreetListing{}
	seen := make(map[string]bool)

	doc.Find("a[href*='Parcel.aspx'], a[href*='pid=']").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		pid := extractParcelID(href)
		if pid == "" || seen[pid] {
			return
		}
		seen[pid] = true

		link := PropertyLink{
			ParcelID:  pid,
			Address:   strings.TrimSpace(s.Text()),
			DetailURL: resolveURL(baseURL, href),
		}
		// Location usually sits in the sibling cell of the row.
		if row := s.Closest("tr"); row.Length() > 0 {
			cells := row.Find("td")
			if cells.Length() >= 2 {
				link.Location = strings.TrimSpace(cells.Eq(1).Text())
			}
		}
		listing.Properties = append(listing.Properties, link)
	})

	if len(listing.Properties) == 0 {
		return nil, fmt.Errorf("%w: no parcel links found", ErrParse)
	}

	// GridView pagers render the next page as a "Next" or ">" link.
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text != "Next" && text != ">" {
			return true
		}
		if href, ok := s.Attr("href"); ok && !strings.HasPrefix(href, "javascript:") {
			listing.NextPageURL = resolveURL(baseURL, href)
			return false
		}
		return true
	})

	return listing, nil
}

// ParseParcelDetail extracts the attribute bags and media references
// from a Parcel.aspx page.
func ParseParcelDetail(html, baseURL string) (*ParcelDetail, error) {
	doc, err := newDoc(html)
	if err != nil {
		return nil, err
	}

	detail := &ParcelDetail{
		ParcelID: labelText(doc, "#MainContent_lblPid"),
		Location: labelText(doc, "#MainContent_lblLocation"),
	}
	detail.Address = detail.Location
	if detail.ParcelID == "" && detail.Location == "" {
		return nil, fmt.Errorf("%w: no parcel labels found", ErrParse)
	}

	owner := map[string]string{
		"name":                  firstLabel(doc, "#MainContent_lblOwner", "#MainContent_lblGenOwner"),
		"co_owner":              labelText(doc, "#MainContent_lblCoOwner"),
		"mailing_address":       labelText(doc, "#MainContent_lblAddr1"),
		"mailing_city_state_zip": labelText(doc, "#MainContent_lblAddr2"),
	}
	detail.Owner = marshalBag(owner)

	building := map[string]string{
		"year_built":    labelText(doc, "#MainContent_ctl01_lblYearBuilt"),
		"living_area":   labelText(doc, "#MainContent_ctl01_lblBldArea"),
		"building_value": labelText(doc, "#MainContent_ctl01_lblBldgAsmt"),
	}
	// Building attribute grid: Field / Value rows.
	doc.Find("#MainContent_ctl01_grdCns tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		field := strings.TrimSuffix(strings.TrimSpace(cells.Eq(0).Text()), ":")
		value := strings.TrimSpace(cells.Eq(1).Text())
		if field != "" && value != "" {
			building[normalizeKey(field)] = value
		}
	})
	detail.Building = marshalBag(building)

	land := map[string]string{
		"land_use":  labelText(doc, "#MainContent_lblUseCode"),
		"zoning":    labelText(doc, "#MainContent_lblZone"),
		"lot_size":  labelText(doc, "#MainContent_lblLndAcres"),
		"land_value": labelText(doc, "#MainContent_lblLndAsmt"),
	}
	detail.Land = marshalBag(land)

	assessment := map[string]string{
		"total": labelText(doc, "#MainContent_lblGenAssessment"),
	}
	doc.Find("#MainContent_grdCurrentValueAsmt tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() >= 3 {
			assessment["building_value"] = strings.TrimSpace(cells.Eq(1).Text())
			assessment["land_value"] = strings.TrimSpace(cells.Eq(2).Text())
		}
	})
	detail.Assessment = marshalBag(assessment)

	var sales []map[string]string
	doc.Find("#MainContent_grdSales tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		sales = append(sales, map[string]string{
			"owner": strings.TrimSpace(cells.Eq(0).Text()),
			"price": strings.TrimSpace(cells.Eq(1).Text()),
			"date":  strings.TrimSpace(cells.Eq(cells.Length() - 1).Text()),
		})
	})
	if len(sales) > 0 {
		if raw, err := json.Marshal(sales); err == nil {
			detail.SalesHistory = raw
		}
	}

	detail.Media = extractMedia(doc, baseURL)
	return detail, nil
}

func extractMedia(doc *goquery.Document, baseURL string) []MediaRef {
	seen := make(map[string]bool)
	var media []MediaRef

	add := func(src, kind string) {
		if src == "" || seen[src] {
			return
		}
		seen[src] = true
		media = append(media, MediaRef{URL: resolveURL(baseURL, src), Kind: kind})
	}

	// Per-building photo and sketch slots (up to nine buildings).
	for i := 1; i <= 9; i++ {
		prefix := fmt.Sprintf("#MainContent_ctl0%d", i)
		if src, ok := doc.Find(prefix + "_imgPhoto").Attr("src"); ok {
			add(src, "photo")
		}
		if src, ok := doc.Find(prefix + "_imgSketch").Attr("src"); ok {
			add(src, "layout")
		}
	}

	doc.Find("img[src*='photos'], img[src*='Photos']").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(src, "photo")
		}
	})
	doc.Find("img[src*='Sketch'], img[src*='sketch']").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(src, "layout")
		}
	})

	return media
}

func labelText(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func firstLabel(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v := labelText(doc, sel); v != "" {
			return v
		}
	}
	return ""
}

func marshalBag(bag map[string]string) json.RawMessage {
	for k, v := range bag {
		if v == "" {
			delete(bag, k)
		}
	}
	if len(bag) == 0 {
		return nil
	}
	raw, err := json.Marshal(bag)
	if err != nil {
		return nil
	}
	return raw
}

func normalizeKey(field string) string {
	key := strings.ToLower(strings.TrimSpace(field))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key
}

func extractParcelID(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, key := range []string{"pid", "ParcelID", "Pid"} {
		if v := q.Get(key); v != "" {
			if _, err := strconv.Atoi(v); err == nil {
				return v
			}
			return v
		}
	}
	return ""
}

func resolveURL(baseURL, href string) string {
	base, err := url.Parse(baseURL + "/")
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func isStreetName(name string) bool {
	if len(name) < 2 {
		return false
	}
	excluded := []string{
		"next", "previous", "page", "back", "home", "search",
		"login", "help", "contact", "about", "...", "first", "last",
	}
	lower := strings.ToLower(name)
	for _, pattern := range excluded {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}
