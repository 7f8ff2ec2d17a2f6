package scrapers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// baseURLKeys and descriptorKeys are the organiser-agnostic aliases tried
// when sniffing for the Strategy A embedded descriptor without the
// selector configuration a concrete apiEmbeddedScraper instance carries.
var (
	baseURLKeys    = []string{"base_url", "baseUrl", "apiBase", "resultsBaseUrl"}
	descriptorKeys = []string{"races", "descriptors", "distances"}
)

// DetectEmbeddedDescriptor scans raw HTML for the Strategy A
// API-embedded-in-HTML descriptor pattern (spec §4.3) without requiring
// an organiser-specific selector, so the Endpoint Monitor's liveness
// probe (spec §4.9 step 2) can sniff any organiser's page. Returns the
// first race's fully-formed API URL when found.
func DetectEmbeddedDescriptor(body []byte) (firstRaceAPIURL string, found bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}

	doc.Find("*").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		node := sel.Get(0)
		if node == nil {
			return true
		}
		for _, attr := range node.Attr {
			payload := attr.Val
			if m := embeddedCallRe.FindStringSubmatch(payload); m != nil {
				payload = m[2]
			}
			payload = html.UnescapeString(payload)

			var obj map[string]interface{}
			if json.Unmarshal([]byte(payload), &obj) != nil {
				continue
			}
			baseURL, ok := firstStringField(obj, baseURLKeys)
			if !ok {
				continue
			}
			descriptors, ok := firstArrayField(obj, descriptorKeys)
			if !ok || len(descriptors) == 0 {
				continue
			}
			first, ok := descriptors[0].(map[string]interface{})
			if !ok {
				continue
			}
			raceID := stringify(first["race_id"])
			pt := stringify(first["pt"])
			firstRaceAPIURL = fmt.Sprintf("%s?race_id=%s&pt=%s", baseURL, url.QueryEscape(raceID), url.QueryEscape(pt))
			found = true
			return false
		}
		return true
	})
	return firstRaceAPIURL, found
}

func firstStringField(obj map[string]interface{}, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func firstArrayField(obj map[string]interface{}, keys []string) ([]interface{}, bool) {
	for _, k := range keys {
		if v, ok := obj[k].([]interface{}); ok {
			return v, true
		}
	}
	return nil, false
}
