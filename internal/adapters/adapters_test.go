package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
)

func mockTenant() *domain.Tenant {
	return &domain.Tenant{
		ID:          domain.NewID(),
		AdapterName: "mock",
		AdapterConfig: domain.AdapterConfig{
			Mock: &domain.MockAdapterConfig{FillRate: 1.0},
		},
	}
}

func gamTenant() *domain.Tenant {
	return &domain.Tenant{
		ID:          domain.NewID(),
		AdapterName: "google_ad_manager",
		AdapterConfig: domain.AdapterConfig{
			GAM: &domain.GoogleAdManagerConfig{NetworkCode: "12345", RefreshToken: "secret"},
		},
	}
}

func testCreateRequest() *CreateRequest {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &CreateRequest{
		MediaBuyID:   "buy_test01",
		AdvertiserID: "adv_1",
		OrderName:    "Spring Launch",
		TotalBudget:  5000,
		FlightStart:  start,
		FlightEnd:    start.AddDate(0, 0, 10),
		Packages: []domain.MediaPackage{
			{PackageID: "pkg_1", Name: "Run of site", CPM: 10, Impressions: 500_000, Budget: 5000},
		},
	}
}

func TestRegistryForTenant(t *testing.T) {
	reg := NewRegistry()
	a, err := reg.ForTenant(mockTenant(), Options{})
	if err != nil {
		t.Fatalf("ForTenant: %v", err)
	}
	if a.Name() != "mock" {
		t.Fatalf("got adapter %q", a.Name())
	}

	bad := mockTenant()
	bad.AdapterName = "doubleclick"
	if _, err := reg.ForTenant(bad, Options{}); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for unknown adapter, got %v", err)
	}
}

func TestDryRunRecordsInsteadOfCalling(t *testing.T) {
	rec := NewCallRecorder()
	a, err := newGAMAdapter(gamTenant(), Options{DryRun: true, Recorder: rec})
	if err != nil {
		t.Fatalf("newGAMAdapter: %v", err)
	}

	res, err := a.CreateMediaBuy(context.Background(), testCreateRequest())
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}
	if !strings.HasPrefix(res.ExternalID, "dryrun_") {
		t.Fatalf("dry-run should return synthetic ID, got %q", res.ExternalID)
	}
	if err := a.Pause(context.Background(), res.ExternalID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	calls := rec.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(calls))
	}
	if calls[0].Method != "POST" || !strings.Contains(calls[0].Target, "/orders") {
		t.Fatalf("unexpected first call: %+v", calls[0])
	}
}

func TestMockCreateIsRepeatSafe(t *testing.T) {
	a, err := newMockAdapter(mockTenant(), Options{})
	if err != nil {
		t.Fatalf("newMockAdapter: %v", err)
	}
	req := testCreateRequest()
	first, err := a.CreateMediaBuy(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}
	second, err := a.CreateMediaBuy(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateMediaBuy (repeat): %v", err)
	}
	if first.ExternalID != second.ExternalID {
		t.Fatalf("repeat create changed external ID: %q vs %q", first.ExternalID, second.ExternalID)
	}
}

func TestMockPerformancePacesLinearly(t *testing.T) {
	adapter, err := newMockAdapter(mockTenant(), Options{})
	if err != nil {
		t.Fatalf("newMockAdapter: %v", err)
	}
	a := adapter.(*mockAdapter)

	req := testCreateRequest()
	res, err := a.CreateMediaBuy(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}

	// Halfway through the 10-day flight, half the impressions have served.
	a.now = func() time.Time { return req.FlightStart.AddDate(0, 0, 5) }
	perf, err := a.GetPerformance(context.Background(), res.ExternalID, req.FlightStart, req.FlightEnd)
	if err != nil {
		t.Fatalf("GetPerformance: %v", err)
	}
	if perf.Impressions != 250_000 {
		t.Fatalf("expected 250000 impressions at midpoint, got %d", perf.Impressions)
	}
	if perf.Spend != 2500 {
		t.Fatalf("expected 2500 spend at midpoint, got %v", perf.Spend)
	}

	again, err := a.GetPerformance(context.Background(), res.ExternalID, req.FlightStart, req.FlightEnd)
	if err != nil {
		t.Fatalf("GetPerformance (repeat): %v", err)
	}
	if again.Impressions != perf.Impressions || again.Spend != perf.Spend {
		t.Fatalf("performance not deterministic: %+v vs %+v", again, perf)
	}
}

func TestMockStatusTracksFlight(t *testing.T) {
	adapter, _ := newMockAdapter(mockTenant(), Options{})
	a := adapter.(*mockAdapter)
	req := testCreateRequest()
	res, _ := a.CreateMediaBuy(context.Background(), req)

	a.now = func() time.Time { return req.FlightStart.AddDate(0, 0, 2) }
	st, err := a.GetStatus(context.Background(), res.ExternalID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.State != "active" {
		t.Fatalf("expected active mid-flight, got %q", st.State)
	}

	if err := a.Pause(context.Background(), res.ExternalID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	st, _ = a.GetStatus(context.Background(), res.ExternalID)
	if st.State != "paused" {
		t.Fatalf("expected paused, got %q", st.State)
	}

	a.now = func() time.Time { return req.FlightEnd.AddDate(0, 0, 1) }
	st, _ = a.GetStatus(context.Background(), res.ExternalID)
	if st.State != "completed" {
		t.Fatalf("expected completed after flight end, got %q", st.State)
	}
}

func TestMockUpdateMediaBuy(t *testing.T) {
	adapter, _ := newMockAdapter(mockTenant(), Options{})
	a := adapter.(*mockAdapter)
	req := testCreateRequest()
	res, _ := a.CreateMediaBuy(context.Background(), req)

	// Pull the flight end forward; status flips to completed past the new end.
	newEnd := req.FlightStart.AddDate(0, 0, 3)
	if err := a.UpdateMediaBuy(context.Background(), &UpdateRequest{ExternalID: res.ExternalID, FlightEnd: newEnd}); err != nil {
		t.Fatalf("UpdateMediaBuy: %v", err)
	}
	a.now = func() time.Time { return newEnd.AddDate(0, 0, 1) }
	st, err := a.GetStatus(context.Background(), res.ExternalID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.State != "completed" {
		t.Fatalf("expected completed after shortened flight, got %q", st.State)
	}

	if err := a.UpdateMediaBuy(context.Background(), &UpdateRequest{ExternalID: "mock_missing"}); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected not_found for unknown campaign, got %v", err)
	}
}

// countingServer fakes a platform API: lookups answer with lookupBody, and
// every POST is counted.
func countingServer(t *testing.T, lookupPath, lookupBody string, posts *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == lookupPath {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(lookupBody))
			return
		}
		if r.Method == http.MethodPost {
			*posts++
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
}

func TestGAMCreateReusesExistingOrder(t *testing.T) {
	posts := 0
	srv := countingServer(t, "/networks/12345/orders", `{"orders":[{"orderId":"ord_9"}]}`, &posts)
	defer srv.Close()

	tenant := gamTenant()
	tenant.AdapterConfig.GAM.BaseURL = srv.URL
	a, err := newGAMAdapter(tenant, Options{})
	if err != nil {
		t.Fatalf("newGAMAdapter: %v", err)
	}
	res, err := a.CreateMediaBuy(context.Background(), testCreateRequest())
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}
	if res.ExternalID != "ord_9" {
		t.Fatalf("expected existing order reused, got %q", res.ExternalID)
	}
	if posts != 0 {
		t.Fatalf("expected no create calls when order exists, got %d", posts)
	}
}

func TestGAMCreatePostsWhenAbsent(t *testing.T) {
	posts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"orders":[]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/networks/12345/orders":
			posts++
			_, _ = w.Write([]byte(`{"orderId":"ord_1"}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	tenant := gamTenant()
	tenant.AdapterConfig.GAM.BaseURL = srv.URL
	a, _ := newGAMAdapter(tenant, Options{})
	res, err := a.CreateMediaBuy(context.Background(), testCreateRequest())
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}
	if res.ExternalID != "ord_1" || posts != 1 {
		t.Fatalf("expected one order created, got id %q with %d posts", res.ExternalID, posts)
	}
}

func TestKevelCreateReusesExistingCampaign(t *testing.T) {
	posts := 0
	srv := countingServer(t, "/campaign/search", `{"items":[{"Id":42}]}`, &posts)
	defer srv.Close()

	tenant := &domain.Tenant{
		ID:          domain.NewID(),
		AdapterName: "kevel",
		AdapterConfig: domain.AdapterConfig{
			Kevel: &domain.KevelAdapterConfig{NetworkID: 7, APIKey: "k", BaseURL: srv.URL},
		},
	}
	a, err := newKevelAdapter(tenant, Options{})
	if err != nil {
		t.Fatalf("newKevelAdapter: %v", err)
	}
	res, err := a.CreateMediaBuy(context.Background(), testCreateRequest())
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}
	if res.ExternalID != "42" {
		t.Fatalf("expected existing campaign reused, got %q", res.ExternalID)
	}
	if posts != 0 {
		t.Fatalf("expected no create calls when campaign exists, got %d", posts)
	}
}

func TestTritonCreateReusesExistingCampaign(t *testing.T) {
	posts := 0
	srv := countingServer(t, "/campaigns", `{"campaigns":[{"campaignId":"c_7"}]}`, &posts)
	defer srv.Close()

	tenant := &domain.Tenant{
		ID:          domain.NewID(),
		AdapterName: "triton",
		AdapterConfig: domain.AdapterConfig{
			Triton: &domain.TritonDigitalAdapterConfig{StationID: "st_1", APIKey: "k", BaseURL: srv.URL},
		},
	}
	a, err := newTritonAdapter(tenant, Options{})
	if err != nil {
		t.Fatalf("newTritonAdapter: %v", err)
	}
	res, err := a.CreateMediaBuy(context.Background(), testCreateRequest())
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}
	if res.ExternalID != "c_7" {
		t.Fatalf("expected existing campaign reused, got %q", res.ExternalID)
	}
	if posts != 0 {
		t.Fatalf("expected no create calls when campaign exists, got %d", posts)
	}
}

func TestGAMUpdateDryRunRecords(t *testing.T) {
	rec := NewCallRecorder()
	a, _ := newGAMAdapter(gamTenant(), Options{DryRun: true, Recorder: rec})

	budget := 8000.0
	if err := a.UpdateMediaBuy(context.Background(), &UpdateRequest{ExternalID: "ord_5", TotalBudget: budget}); err != nil {
		t.Fatalf("UpdateMediaBuy: %v", err)
	}
	calls := rec.Calls()
	if len(calls) != 1 || calls[0].Method != "PATCH" || !strings.Contains(calls[0].Target, "/orders/ord_5") {
		t.Fatalf("expected recorded PATCH, got %+v", calls)
	}
}

func TestTritonRejectsNonAudioFormats(t *testing.T) {
	tenant := &domain.Tenant{
		ID:          domain.NewID(),
		AdapterName: "triton",
		AdapterConfig: domain.AdapterConfig{
			Triton: &domain.TritonDigitalAdapterConfig{StationID: "st_1", APIKey: "k"},
		},
	}
	a, err := newTritonAdapter(tenant, Options{DryRun: true, Recorder: NewCallRecorder()})
	if err != nil {
		t.Fatalf("newTritonAdapter: %v", err)
	}
	req := testCreateRequest()
	req.Packages[0].FormatIDs = []string{"video_1920x1080"}
	if _, err := a.CreateMediaBuy(context.Background(), req); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for video format, got %v", err)
	}
}

func TestKevelDropsAudiencesWithoutUserDB(t *testing.T) {
	tenant := &domain.Tenant{
		ID:          domain.NewID(),
		AdapterName: "kevel",
		AdapterConfig: domain.AdapterConfig{
			Kevel: &domain.KevelAdapterConfig{NetworkID: 7, APIKey: "k", UserDBEnabled: false},
		},
	}
	adapter, err := newKevelAdapter(tenant, Options{DryRun: true, Recorder: NewCallRecorder()})
	if err != nil {
		t.Fatalf("newKevelAdapter: %v", err)
	}
	req := testCreateRequest()
	req.Targeting = &domain.TargetingOverlay{AudiencesAnyOf: []string{"sports_fans"}}
	res, err := adapter.CreateMediaBuy(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "UserDB") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected UserDB warning, got %v", res.Warnings)
	}
}
