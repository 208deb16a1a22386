package targeting

import (
	"strconv"
	"strings"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
)

// Adapter names the translator knows about.
const (
	AdapterMock   = "mock"
	AdapterGAM    = "google_ad_manager"
	AdapterKevel  = "kevel"
	AdapterTriton = "triton"
)

// gamCountryIDs maps ISO country codes to Google Ad Manager geo location IDs.
var gamCountryIDs = map[string]int{
	"US": 2840, "CA": 2124, "GB": 2826, "DE": 2276, "FR": 2250,
	"AU": 2036, "JP": 2392, "BR": 2076, "MX": 2484, "IN": 2356,
}

// gamRegionIDs maps common region codes to GAM geo location IDs.
var gamRegionIDs = map[string]int{
	"US-NY": 21167, "US-CA": 21137, "US-TX": 21176, "US-IL": 21147,
	"CA-ON": 20121, "CA-BC": 20107, "GB-ENG": 20339,
}

var adapterDeviceTypes = map[string]map[string]bool{
	AdapterMock:   {"mobile": true, "desktop": true, "tablet": true, "ctv": true, "dooh": true, "audio": true},
	AdapterGAM:    {"mobile": true, "desktop": true, "tablet": true, "ctv": true},
	AdapterKevel:  {"mobile": true, "desktop": true, "tablet": true},
	AdapterTriton: {"mobile": true, "desktop": true, "audio": true},
}

var adapterMediaTypes = map[string]map[string]bool{
	AdapterMock:   {"video": true, "display": true, "native": true, "audio": true, "dooh": true},
	AdapterGAM:    {"video": true, "display": true, "native": true},
	AdapterKevel:  {"display": true, "native": true},
	AdapterTriton: {"audio": true},
}

// Translate converts a targeting overlay into the named adapter's targeting
// representation. Unsupported dimensions are dropped with a warning, never
// silently and never fatally. The result is deterministic for a given input.
func Translate(adapterName string, t *domain.TargetingOverlay) (map[string]any, []string, error) {
	switch adapterName {
	case AdapterMock:
		return translateMock(t)
	case AdapterGAM:
		return translateGAM(t)
	case AdapterKevel:
		return translateKevel(t)
	case AdapterTriton:
		return translateTriton(t)
	default:
		return nil, nil, errs.New(errs.KindValidation, "unknown adapter %q", adapterName)
	}
}

// filterSupported keeps values present in the support set, warning per drop.
func filterSupported(values []string, supported map[string]bool, dimension, adapterName string, warnings []string) ([]string, []string) {
	var kept []string
	for _, v := range values {
		if supported[strings.ToLower(v)] {
			kept = append(kept, v)
		} else {
			warnings = warnf(warnings, "%s %q not supported by %s; dropped", dimension, v, adapterName)
		}
	}
	return kept, warnings
}

// translateMock passes everything through. The mock platform supports every
// dimension, including AEE key/values via its custom targeting keys.
func translateMock(t *domain.TargetingOverlay) (map[string]any, []string, error) {
	out := map[string]any{}
	if t.IsZero() {
		return out, nil, nil
	}
	putList(out, "geo_country_any_of", t.GeoCountryAnyOf)
	putList(out, "geo_country_none_of", t.GeoCountryNoneOf)
	putList(out, "geo_region_any_of", t.GeoRegionAnyOf)
	putList(out, "geo_region_none_of", t.GeoRegionNoneOf)
	putList(out, "geo_metro_any_of", t.GeoMetroAnyOf)
	putList(out, "geo_metro_none_of", t.GeoMetroNoneOf)
	putList(out, "device_type_any_of", t.DeviceTypeAnyOf)
	putList(out, "device_type_none_of", t.DeviceTypeNoneOf)
	putList(out, "media_type_any_of", t.MediaTypeAnyOf)
	putList(out, "media_type_none_of", t.MediaTypeNoneOf)
	putList(out, "audiences_any_of", t.AudiencesAnyOf)
	putList(out, "signals", t.Signals)
	if len(t.KeyValuePairs) > 0 {
		kv := map[string]string{}
		for _, k := range sortedKVKeys(t.KeyValuePairs) {
			kv[k] = t.KeyValuePairs[k]
		}
		out["custom_targeting"] = kv
	}
	return out, nil, nil
}

// translateGAM builds GAM targeting criteria: geo IDs via the static lookup
// tables, devices via device categories, and signals/AEE pairs via custom
// targeting keys.
func translateGAM(t *domain.TargetingOverlay) (map[string]any, []string, error) {
	out := map[string]any{}
	var warnings []string
	if t.IsZero() {
		return out, warnings, nil
	}

	geo := map[string]any{}
	var targeted, excluded []map[string]int
	for _, c := range t.GeoCountryAnyOf {
		if id, ok := gamCountryIDs[strings.ToUpper(c)]; ok {
			targeted = append(targeted, map[string]int{"id": id})
		} else {
			warnings = warnf(warnings, "country code %q not in GAM geo mapping; dropped", c)
		}
	}
	for _, r := range t.GeoRegionAnyOf {
		if id, ok := gamRegionIDs[strings.ToUpper(r)]; ok {
			targeted = append(targeted, map[string]int{"id": id})
		} else {
			warnings = warnf(warnings, "region code %q not in GAM geo mapping; dropped", r)
		}
	}
	for _, m := range t.GeoMetroAnyOf {
		if id, err := strconv.Atoi(m); err == nil {
			targeted = append(targeted, map[string]int{"id": id})
		} else {
			warnings = warnf(warnings, "metro code %q is not numeric; dropped", m)
		}
	}
	for _, c := range t.GeoCountryNoneOf {
		if id, ok := gamCountryIDs[strings.ToUpper(c)]; ok {
			excluded = append(excluded, map[string]int{"id": id})
		} else {
			warnings = warnf(warnings, "country code %q not in GAM geo mapping; dropped", c)
		}
	}
	if len(targeted) > 0 {
		geo["targetedLocations"] = targeted
	}
	if len(excluded) > 0 {
		geo["excludedLocations"] = excluded
	}
	if len(geo) > 0 {
		out["geoTargeting"] = geo
	}

	devices, warnings := filterSupported(t.DeviceTypeAnyOf, adapterDeviceTypes[AdapterGAM], "device type", "Google Ad Manager", warnings)
	if len(devices) > 0 {
		out["deviceCategoryTargeting"] = map[string]any{"targetedDeviceCategories": devices}
	}
	media, warnings := filterSupported(t.MediaTypeAnyOf, adapterMediaTypes[AdapterGAM], "media type", "Google Ad Manager", warnings)
	if len(media) > 0 {
		out["environmentTypes"] = media
	}

	// Signals and AEE pairs both ride GAM custom targeting keys.
	custom := map[string][]string{}
	if len(t.Signals) > 0 {
		custom["signal"] = append([]string(nil), t.Signals...)
	}
	for _, k := range sortedKVKeys(t.KeyValuePairs) {
		custom[k] = []string{t.KeyValuePairs[k]}
	}
	if t.AEESegment != "" {
		custom["aee_segment"] = []string{t.AEESegment}
	}
	if len(t.AudiencesAnyOf) > 0 {
		custom["audience_segment"] = append([]string(nil), t.AudiencesAnyOf...)
	}
	if len(custom) > 0 {
		out["customTargeting"] = custom
	}
	return out, warnings, nil
}

// translateKevel builds Kevel flight targeting. Kevel has no native media-type
// dimension and audience targeting requires UserDB, which is enforced by the
// adapter; AEE pairs map onto Kevel custom targeting expressions.
func translateKevel(t *domain.TargetingOverlay) (map[string]any, []string, error) {
	out := map[string]any{}
	var warnings []string
	if t.IsZero() {
		return out, warnings, nil
	}

	geo := map[string]any{}
	if len(t.GeoCountryAnyOf) > 0 {
		geo["countries"] = append([]string(nil), t.GeoCountryAnyOf...)
	}
	if len(t.GeoRegionAnyOf) > 0 {
		geo["regions"] = append([]string(nil), t.GeoRegionAnyOf...)
	}
	if len(t.GeoMetroAnyOf) > 0 {
		var metros []int
		for _, m := range t.GeoMetroAnyOf {
			if id, err := strconv.Atoi(m); err == nil {
				metros = append(metros, id)
			} else {
				warnings = warnf(warnings, "metro code %q is not numeric; dropped", m)
			}
		}
		if len(metros) > 0 {
			geo["metros"] = metros
		}
	}
	if len(geo) > 0 {
		out["geo"] = geo
	}

	devices, warnings := filterSupported(t.DeviceTypeAnyOf, adapterDeviceTypes[AdapterKevel], "device type", "Kevel", warnings)
	if len(devices) > 0 {
		out["devices"] = devices
	}
	if len(t.MediaTypeAnyOf) > 0 {
		warnings = warnf(warnings, "media type targeting not supported by Kevel; dropped")
	}

	// Interests and AEE pairs compile into a custom targeting expression.
	var exprs []string
	for _, seg := range t.AudiencesAnyOf {
		name := seg
		if i := strings.IndexByte(seg, ':'); i >= 0 {
			name = seg[i+1:]
		}
		exprs = append(exprs, `$user.interests CONTAINS "`+titleWords(name)+`"`)
	}
	for _, k := range sortedKVKeys(t.KeyValuePairs) {
		exprs = append(exprs, `$user.custom.`+k+` = "`+t.KeyValuePairs[k]+`"`)
	}
	if len(t.Signals) > 0 {
		warnings = warnf(warnings, "signal targeting not supported by Kevel; dropped")
	}
	if len(exprs) > 0 {
		out["customTargeting"] = strings.Join(exprs, " OR ")
	}
	return out, warnings, nil
}

// translateTriton builds Triton audio targeting. Triton only understands
// geo and dayparts; everything else is dropped with a warning.
func translateTriton(t *domain.TargetingOverlay) (map[string]any, []string, error) {
	out := map[string]any{}
	var warnings []string
	if t.IsZero() {
		return out, warnings, nil
	}
	if len(t.GeoCountryAnyOf) > 0 {
		out["countries"] = append([]string(nil), t.GeoCountryAnyOf...)
	}
	if len(t.GeoRegionAnyOf) > 0 {
		out["regions"] = append([]string(nil), t.GeoRegionAnyOf...)
	}
	if len(t.GeoMetroAnyOf) > 0 {
		warnings = warnf(warnings, "metro targeting not supported by Triton; dropped")
	}
	devices, warnings := filterSupported(t.DeviceTypeAnyOf, adapterDeviceTypes[AdapterTriton], "device type", "Triton", warnings)
	if len(devices) > 0 {
		out["devices"] = devices
	}
	for _, m := range t.MediaTypeAnyOf {
		if strings.EqualFold(m, "audio") {
			continue
		}
		warnings = warnf(warnings, "media type %q not supported by Triton; dropped", m)
	}
	if len(t.AudiencesAnyOf) > 0 {
		warnings = warnf(warnings, "audience targeting not supported by Triton; dropped")
	}
	if len(t.Signals) > 0 {
		warnings = warnf(warnings, "signal targeting not supported by Triton; dropped")
	}
	if len(t.KeyValuePairs) > 0 {
		warnings = warnf(warnings, "key/value targeting not supported by Triton; dropped")
	}
	return out, warnings, nil
}

// titleWords converts "sports_fans" to "Sports Fans" for Kevel interest names.
func titleWords(s string) string {
	words := strings.Split(strings.ReplaceAll(s, "_", " "), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func putList(out map[string]any, key string, values []string) {
	if len(values) > 0 {
		out[key] = append([]string(nil), values...)
	}
}
