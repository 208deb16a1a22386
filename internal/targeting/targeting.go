// Package targeting validates advertiser-supplied targeting overlays and
// translates them into adapter-specific configuration. The translator is
// pure: no I/O, and identical input always produces identical output.
package targeting

import (
	"fmt"
	"sort"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
)

// Access classifies who may set a targeting dimension.
type Access string

const (
	AccessOverlay     Access = "overlay"      // Advertiser-settable.
	AccessManagedOnly Access = "managed_only" // Orchestrator/AEE only.
)

// Capability describes one targeting dimension.
type Capability struct {
	Dimension   string
	Access      Access
	Description string
	AEESignal   bool
}

// capabilities is the dimension registry. Managed-only dimensions can never
// be set through a caller request.
var capabilities = map[string]Capability{
	"geo_country": {Dimension: "geo_country", Access: AccessOverlay, Description: "ISO country codes"},
	"geo_region":  {Dimension: "geo_region", Access: AccessOverlay, Description: "Region codes"},
	"geo_metro":   {Dimension: "geo_metro", Access: AccessOverlay, Description: "Metro/DMA codes"},
	"device_type": {Dimension: "device_type", Access: AccessOverlay, Description: "Device classes"},
	"media_type":  {Dimension: "media_type", Access: AccessOverlay, Description: "Media types"},
	"audiences":   {Dimension: "audiences", Access: AccessOverlay, Description: "Audience segments"},
	"signals":     {Dimension: "signals", Access: AccessOverlay, Description: "Signal IDs from get_signals"},

	"key_value_pairs": {Dimension: "key_value_pairs", Access: AccessManagedOnly, Description: "AEE key/value activation signals", AEESignal: true},
	"aee_segment":     {Dimension: "aee_segment", Access: AccessManagedOnly, Description: "AEE-computed audience segments", AEESignal: true},
	"aee_score":       {Dimension: "aee_score", Access: AccessManagedOnly, Description: "AEE effectiveness scores", AEESignal: true},
	"aee_context":     {Dimension: "aee_context", Access: AccessManagedOnly, Description: "AEE contextual signals", AEESignal: true},
}

// ManagedOnlyDimensions returns the dimensions callers may never set, sorted.
func ManagedOnlyDimensions() []string {
	var dims []string
	for name, cap := range capabilities {
		if cap.Access == AccessManagedOnly {
			dims = append(dims, name)
		}
	}
	sort.Strings(dims)
	return dims
}

// Capabilities returns every registered dimension, sorted by name.
func Capabilities() []Capability {
	caps := make([]Capability, 0, len(capabilities))
	for _, c := range capabilities {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].Dimension < caps[j].Dimension })
	return caps
}

// ValidateOverlay rejects overlays that set managed-only dimensions.
// Returns a validation error naming the first offending field.
func ValidateOverlay(t *domain.TargetingOverlay) error {
	if t == nil {
		return nil
	}
	if len(t.KeyValuePairs) > 0 {
		return errs.Validation("targeting_overlay.key_value_pairs",
			"key_value_pairs is managed-only and cannot be set via overlay")
	}
	if t.AEESegment != "" {
		return errs.Validation("targeting_overlay.aee_segment",
			"aee_segment is managed-only and cannot be set via overlay")
	}
	if t.AEEScore != "" {
		return errs.Validation("targeting_overlay.aee_score",
			"aee_score is managed-only and cannot be set via overlay")
	}
	if t.AEEContext != "" {
		return errs.Validation("targeting_overlay.aee_context",
			"aee_context is managed-only and cannot be set via overlay")
	}
	return nil
}

// NormalizeLegacyPriceGuidance converts the legacy two-value {min, max}
// guidance into the percentile shape: floor=min, p50=(min+max)/2, p90=max*0.9,
// and p75 interpolated linearly between p50 and p90.
func NormalizeLegacyPriceGuidance(min, max float64) (domain.PriceGuidance, error) {
	if min < 0 || max < min {
		return domain.PriceGuidance{}, errs.Validation("price_guidance",
			"legacy price guidance requires 0 <= min <= max, got min=%v max=%v", min, max)
	}
	p50 := (min + max) / 2
	p90 := max * 0.9
	return domain.PriceGuidance{
		Floor: min,
		P50:   p50,
		P75:   p50 + (p90-p50)/2,
		P90:   p90,
	}, nil
}

// sortedKVKeys returns the keys of m in deterministic order.
func sortedKVKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// warnf appends a formatted warning.
func warnf(warnings []string, format string, args ...any) []string {
	return append(warnings, fmt.Sprintf(format, args...))
}
