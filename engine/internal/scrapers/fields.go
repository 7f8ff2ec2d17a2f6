package scrapers

import (
	"strconv"
	"strings"
)

// parsePositiveInt implements the result field normalisation rule of
// spec §4.3: gender-position and category-position accept only positive
// integers; "-" or empty strings become absent.
func parsePositiveInt(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// fieldAliases maps permissive payload keys to the canonical result
// schema field they populate, used when mapping Strategy A's JSON
// result rows.
var fieldAliases = map[string][]string{
	"position":          {"position", "pos", "place", "rank"},
	"bib":               {"bib", "bib_number", "bibnumber", "number"},
	"name":              {"name", "athlete_name", "full_name", "display_name"},
	"gender":            {"gender", "sex"},
	"category":          {"category", "age_group", "division"},
	"finish_time":       {"finish_time", "finish", "time", "net_time", "finishtime"},
	"gun_time":          {"gun_time", "guntime"},
	"chip_time":         {"chip_time", "chiptime", "net_time"},
	"pace":              {"pace", "avg_pace"},
	"gender_position":   {"gender_position", "gender_rank", "genderplace"},
	"category_position": {"category_position", "category_rank", "division_rank", "age_group_rank"},
	"country":           {"country", "nationality", "nat"},
	"club":              {"club", "team"},
	"age":               {"age"},
}

// lookupAlias returns the first populated value among a field's known
// aliases in a permissive decoded JSON object.
func lookupAlias(obj map[string]interface{}, field string) (string, bool) {
	for _, alias := range fieldAliases[field] {
		if v, ok := obj[alias]; ok {
			s := stringify(v)
			if s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return ""
	}
}
