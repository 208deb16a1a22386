package targeting

import (
	"errors"
	"reflect"
	"testing"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
)

func TestNormalizeLegacyPriceGuidance(t *testing.T) {
	got, err := NormalizeLegacyPriceGuidance(10, 20)
	if err != nil {
		t.Fatalf("NormalizeLegacyPriceGuidance: %v", err)
	}
	want := domain.PriceGuidance{Floor: 10, P50: 15, P75: 16.5, P90: 18}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestNormalizeLegacyPriceGuidanceRejectsInverted(t *testing.T) {
	_, err := NormalizeLegacyPriceGuidance(20, 10)
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateOverlayRejectsManagedOnly(t *testing.T) {
	cases := []struct {
		name    string
		overlay domain.TargetingOverlay
		field   string
	}{
		{"key_value_pairs", domain.TargetingOverlay{KeyValuePairs: map[string]string{"aee": "1"}}, "targeting_overlay.key_value_pairs"},
		{"aee_segment", domain.TargetingOverlay{AEESegment: "seg_1"}, "targeting_overlay.aee_segment"},
		{"aee_score", domain.TargetingOverlay{AEEScore: "0.9"}, "targeting_overlay.aee_score"},
		{"aee_context", domain.TargetingOverlay{AEEContext: "ctx"}, "targeting_overlay.aee_context"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOverlay(&tc.overlay)
			if !errs.Is(err, errs.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var e *errs.Error
			if !errors.As(err, &e) || e.Field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, err)
			}
		})
	}
}

func TestValidateOverlayAcceptsOverlayDimensions(t *testing.T) {
	overlay := &domain.TargetingOverlay{
		GeoCountryAnyOf: []string{"US", "CA"},
		DeviceTypeAnyOf: []string{"mobile"},
		Signals:         []string{"sig_auto_intenders"},
	}
	if err := ValidateOverlay(overlay); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateOverlay(nil); err != nil {
		t.Fatalf("nil overlay should validate: %v", err)
	}
}

func TestManagedOnlyDimensions(t *testing.T) {
	want := []string{"aee_context", "aee_score", "aee_segment", "key_value_pairs"}
	if got := ManagedOnlyDimensions(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestTranslateGAMGeoLookup(t *testing.T) {
	overlay := &domain.TargetingOverlay{
		GeoCountryAnyOf:  []string{"US", "XX"},
		GeoCountryNoneOf: []string{"CA"},
		GeoRegionAnyOf:   []string{"US-NY"},
	}
	out, warnings, err := Translate(AdapterGAM, overlay)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	geo, ok := out["geoTargeting"].(map[string]any)
	if !ok {
		t.Fatalf("missing geoTargeting in %v", out)
	}
	targeted := geo["targetedLocations"].([]map[string]int)
	if len(targeted) != 2 || targeted[0]["id"] != 2840 || targeted[1]["id"] != 21167 {
		t.Fatalf("unexpected targeted locations: %v", targeted)
	}
	excluded := geo["excludedLocations"].([]map[string]int)
	if len(excluded) != 1 || excluded[0]["id"] != 2124 {
		t.Fatalf("unexpected excluded locations: %v", excluded)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning for unmapped country, got %v", warnings)
	}
}

func TestTranslateKevelDropsUnsupported(t *testing.T) {
	overlay := &domain.TargetingOverlay{
		DeviceTypeAnyOf: []string{"mobile", "ctv"},
		MediaTypeAnyOf:  []string{"video"},
		GeoMetroAnyOf:   []string{"501", "bogus"},
	}
	out, warnings, err := Translate(AdapterKevel, overlay)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	devices := out["devices"].([]string)
	if len(devices) != 1 || devices[0] != "mobile" {
		t.Fatalf("unexpected devices: %v", devices)
	}
	geo := out["geo"].(map[string]any)
	metros := geo["metros"].([]int)
	if len(metros) != 1 || metros[0] != 501 {
		t.Fatalf("unexpected metros: %v", metros)
	}
	// ctv, media type, and bogus metro each warn.
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", warnings)
	}
}

func TestTranslateTritonAudioOnly(t *testing.T) {
	overlay := &domain.TargetingOverlay{
		GeoCountryAnyOf: []string{"US"},
		MediaTypeAnyOf:  []string{"audio", "video"},
		AudiencesAnyOf:  []string{"sports_fans"},
	}
	out, warnings, err := Translate(AdapterTriton, overlay)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if _, ok := out["countries"]; !ok {
		t.Fatalf("expected countries in %v", out)
	}
	// video and audiences each warn; audio passes silently.
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
}

func TestTranslateDeterministic(t *testing.T) {
	overlay := &domain.TargetingOverlay{
		GeoCountryAnyOf: []string{"US", "GB"},
		KeyValuePairs:   map[string]string{"zeta": "1", "alpha": "2", "mid": "3"},
		Signals:         []string{"sig_a"},
	}
	first, firstWarn, err := Translate(AdapterGAM, overlay)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	for i := 0; i < 20; i++ {
		out, warnings, err := Translate(AdapterGAM, overlay)
		if err != nil {
			t.Fatalf("Translate: %v", err)
		}
		if !reflect.DeepEqual(out, first) || !reflect.DeepEqual(warnings, firstWarn) {
			t.Fatalf("translation not deterministic: %v vs %v", out, first)
		}
	}
}

func TestTranslateUnknownAdapter(t *testing.T) {
	_, _, err := Translate("doubleclick", &domain.TargetingOverlay{})
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
