package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voltage-monitor/internal/analytics"
	"voltage-monitor/internal/tuya"
)

type stubAggregator struct {
	lastDataReq  analytics.Request
	lastStatsReq analytics.StatsRequest
	buckets      []analytics.Bucket
	stats        []analytics.DeviceStats
	err          error
}

func (s *stubAggregator) Aggregate(_ context.Context, req analytics.Request) ([]analytics.Bucket, error) {
	s.lastDataReq = req
	return s.buckets, s.err
}

func (s *stubAggregator) Stats(_ context.Context, req analytics.StatsRequest) ([]analytics.DeviceStats, error) {
	s.lastStatsReq = req
	return s.stats, s.err
}

type stubDeviceLister struct {
	ids []string
	err error
}

func (s *stubDeviceLister) ListDeviceIDs(context.Context) ([]string, error) {
	return s.ids, s.err
}

type stubCloudLister struct {
	devices []tuya.Device
	err     error
	calls   int
}

func (s *stubCloudLister) ListDevices(context.Context) ([]tuya.Device, error) {
	s.calls++
	return s.devices, s.err
}

type stubNameCache struct {
	names  map[string]string
	hit    bool
	stored map[string]string
}

func (s *stubNameCache) GetNames(context.Context) (map[string]string, bool) {
	return s.names, s.hit
}

func (s *stubNameCache) SetNames(_ context.Context, names map[string]string) error {
	s.stored = names
	return nil
}

func TestDataHandlerReturnsBuckets(t *testing.T) {
	bucketStart := time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)
	engine := &stubAggregator{buckets: []analytics.Bucket{
		{DeviceID: "plug-1", BucketStart: bucketStart, AvgVoltage: 220.5, MinVoltage: 219.0, MaxVoltage: 222.0, Count: 12},
	}}
	handler := NewDataHandler(engine, -3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/data?scale=hour&hours=6&device_id=plug-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if engine.lastDataReq.HoursBack != 6 {
		t.Fatalf("HoursBack = %d, want 6", engine.lastDataReq.HoursBack)
	}
	if engine.lastDataReq.DeviceID != "plug-1" {
		t.Fatalf("DeviceID = %q, want plug-1", engine.lastDataReq.DeviceID)
	}

	var resp struct {
		Data []struct {
			DeviceID   string  `json:"device_id"`
			Timestamp  string  `json:"timestamp"`
			AvgVoltage float64 `json:"avg_voltage"`
			Count      int     `json:"count"`
		} `json:"data"`
		Scale string `json:"scale"`
		Hours int    `json:"hours"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Scale != "hour" || resp.Hours != 6 {
		t.Fatalf("scale/hours = %q/%d, want hour/6", resp.Scale, resp.Hours)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("len(data) = %d, want 1", len(resp.Data))
	}
	if resp.Data[0].Timestamp != "2024-06-01T14:00:00-03:00" {
		t.Fatalf("timestamp = %q, want 2024-06-01T14:00:00-03:00", resp.Data[0].Timestamp)
	}
	if resp.Data[0].AvgVoltage != 220.5 || resp.Data[0].Count != 12 {
		t.Fatalf("avg/count = %v/%d", resp.Data[0].AvgVoltage, resp.Data[0].Count)
	}
}

func TestDataHandlerDefaultsToHourScaleAnd24Hours(t *testing.T) {
	engine := &stubAggregator{}
	handler := NewDataHandler(engine, -3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/data", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if engine.lastDataReq.Granularity != analytics.GranularityHour {
		t.Fatalf("granularity = %q, want hour", engine.lastDataReq.Granularity)
	}
	if !strings.Contains(rec.Body.String(), `"hours":24`) {
		t.Fatalf("body = %s, want hours 24", rec.Body.String())
	}
}

func TestDataHandlerRejectsBadParams(t *testing.T) {
	handler := NewDataHandler(&stubAggregator{}, -3)

	for _, target := range []string{
		"/api/v1/data?scale=week",
		"/api/v1/data?hours=0",
		"/api/v1/data?hours=abc",
		"/api/v1/data?min_voltage=low",
		"/api/v1/data?max_voltage=",
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		want := http.StatusBadRequest
		if target == "/api/v1/data?max_voltage=" {
			// empty value means unset, not invalid
			want = http.StatusOK
		}
		if rec.Code != want {
			t.Errorf("%s: status = %d, want %d", target, rec.Code, want)
		}
	}
}

func TestDataHandlerPropagatesVoltageFilters(t *testing.T) {
	engine := &stubAggregator{}
	handler := NewDataHandler(engine, -3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/data?min_voltage=200&max_voltage=240.5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if engine.lastDataReq.MinVoltage == nil || *engine.lastDataReq.MinVoltage != 200 {
		t.Fatalf("MinVoltage = %v, want 200", engine.lastDataReq.MinVoltage)
	}
	if engine.lastDataReq.MaxVoltage == nil || *engine.lastDataReq.MaxVoltage != 240.5 {
		t.Fatalf("MaxVoltage = %v, want 240.5", engine.lastDataReq.MaxVoltage)
	}
}

func TestDataHandlerMethodNotAllowed(t *testing.T) {
	handler := NewDataHandler(&stubAggregator{}, -3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/data", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestDataHandlerEngineError(t *testing.T) {
	handler := NewDataHandler(&stubAggregator{err: errors.New("boom")}, -3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/data", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestDevicesHandler(t *testing.T) {
	handler := NewDevicesHandler(&stubDeviceLister{ids: []string{"plug-1", "plug-2"}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Devices []string `json:"devices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Devices) != 2 || resp.Devices[0] != "plug-1" {
		t.Fatalf("devices = %v", resp.Devices)
	}
}

func TestDevicesHandlerEmptyStoreReturnsEmptyList(t *testing.T) {
	handler := NewDevicesHandler(&stubDeviceLister{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"devices":[]`) {
		t.Fatalf("body = %s, want empty list", rec.Body.String())
	}
}

func TestDeviceNamesHandlerCacheHitSkipsCloud(t *testing.T) {
	cloud := &stubCloudLister{}
	cache := &stubNameCache{names: map[string]string{"plug-1": "Kitchen"}, hit: true}
	handler := NewDeviceNamesHandler(cloud, cache)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/device-names", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if cloud.calls != 0 {
		t.Fatalf("cloud calls = %d, want 0", cloud.calls)
	}
	if !strings.Contains(rec.Body.String(), "Kitchen") {
		t.Fatalf("body = %s, want cached name", rec.Body.String())
	}
}

func TestDeviceNamesHandlerFallsBackToIDAndStoresCache(t *testing.T) {
	cloud := &stubCloudLister{devices: []tuya.Device{
		{ID: "plug-1", Name: "Kitchen"},
		{ID: "plug-2"},
	}}
	cache := &stubNameCache{}
	handler := NewDeviceNamesHandler(cloud, cache)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/device-names", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Devices map[string]string `json:"devices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Devices["plug-1"] != "Kitchen" {
		t.Fatalf("plug-1 name = %q, want Kitchen", resp.Devices["plug-1"])
	}
	if resp.Devices["plug-2"] != "plug-2" {
		t.Fatalf("plug-2 name = %q, want id fallback", resp.Devices["plug-2"])
	}
	if cache.stored == nil || cache.stored["plug-1"] != "Kitchen" {
		t.Fatalf("cache stored = %v, want populated", cache.stored)
	}
}

func TestDeviceNamesHandlerCloudError(t *testing.T) {
	handler := NewDeviceNamesHandler(&stubCloudLister{err: errors.New("cloud down")}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/device-names", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	first := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2024, 6, 1, 23, 55, 0, 0, time.UTC)
	engine := &stubAggregator{stats: []analytics.DeviceStats{
		{DeviceID: "plug-1", Count: 288, AvgVoltage: 220.1, MinVoltage: 215.0, MaxVoltage: 226.3, FirstTimestamp: first, LastTimestamp: last},
	}}
	handler := NewStatsHandler(engine, -3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats?hours=48&device_id=plug-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if engine.lastStatsReq.HoursBack != 48 || engine.lastStatsReq.DeviceID != "plug-1" {
		t.Fatalf("stats request = %+v", engine.lastStatsReq)
	}
	var resp struct {
		Stats []struct {
			DeviceID      string  `json:"device_id"`
			TotalReadings int     `json:"total_readings"`
			AvgVoltage    float64 `json:"avg_voltage"`
			FirstReading  string  `json:"first_reading"`
			LastReading   string  `json:"last_reading"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Stats) != 1 {
		t.Fatalf("len(stats) = %d, want 1", len(resp.Stats))
	}
	if resp.Stats[0].TotalReadings != 288 {
		t.Fatalf("total_readings = %d, want 288", resp.Stats[0].TotalReadings)
	}
	if resp.Stats[0].LastReading != "2024-06-01T23:55:00-03:00" {
		t.Fatalf("last_reading = %q", resp.Stats[0].LastReading)
	}
}

func TestExportReadingsCSV(t *testing.T) {
	bucketStart := time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)
	engine := &stubAggregator{buckets: []analytics.Bucket{
		{DeviceID: "plug-1", BucketStart: bucketStart, AvgVoltage: 220.5, MinVoltage: 219, MaxVoltage: 222, Count: 12},
	}}
	handler := NewExportReadingsCSVHandler(engine, -3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/readings.csv?scale=hour", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "device_id,bucket_start,avg_voltage") {
		t.Fatalf("missing header row: %s", body)
	}
	if !strings.Contains(body, "plug-1,2024-06-01T14:00:00-03:00,220.5,219,222,12") {
		t.Fatalf("missing data row: %s", body)
	}
}

func TestExportReadingsXLSX(t *testing.T) {
	engine := &stubAggregator{buckets: []analytics.Bucket{
		{DeviceID: "plug-1", BucketStart: time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC), AvgVoltage: 220.5, Count: 1},
	}}
	handler := NewExportReadingsXLSXHandler(engine, -3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/readings.xlsx", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty xlsx payload")
	}
	// xlsx files are zip archives
	if !strings.HasPrefix(rec.Body.String(), "PK") {
		t.Fatal("payload is not a zip archive")
	}
}

func TestExportReportPDF(t *testing.T) {
	engine := &stubAggregator{stats: []analytics.DeviceStats{
		{DeviceID: "plug-1", Count: 10, AvgVoltage: 220, MinVoltage: 218, MaxVoltage: 223,
			FirstTimestamp: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			LastTimestamp:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
	}}
	handler := NewExportReportPDFHandler(engine, -3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/report.pdf", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF") {
		t.Fatal("payload is not a pdf")
	}
}
