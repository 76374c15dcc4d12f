package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"voltage-monitor/internal/analytics"
	"voltage-monitor/internal/observability/metrics"
	reading "voltage-monitor/internal/reading/domain"
	"voltage-monitor/internal/tuya"
)

// Aggregator answers bucketed aggregation and stats queries.
type Aggregator interface {
	Aggregate(ctx context.Context, req analytics.Request) ([]analytics.Bucket, error)
	Stats(ctx context.Context, req analytics.StatsRequest) ([]analytics.DeviceStats, error)
}

// DeviceLister returns device ids present in the store.
type DeviceLister interface {
	ListDeviceIDs(ctx context.Context) ([]string, error)
}

// CloudDeviceLister returns the devices registered in the cloud account.
type CloudDeviceLister interface {
	ListDevices(ctx context.Context) ([]tuya.Device, error)
}

// NameCache caches the cloud device-name map. Implementations may be nil-safe
// no-ops; a cache miss just falls through to the cloud.
type NameCache interface {
	GetNames(ctx context.Context) (map[string]string, bool)
	SetNames(ctx context.Context, names map[string]string) error
}

type bucketRow struct {
	DeviceID   string  `json:"device_id"`
	Timestamp  string  `json:"timestamp"`
	AvgVoltage float64 `json:"avg_voltage"`
	MinVoltage float64 `json:"min_voltage"`
	MaxVoltage float64 `json:"max_voltage"`
	Count      int     `json:"count"`
}

type dataResponse struct {
	Data  []bucketRow `json:"data"`
	Scale string      `json:"scale"`
	Hours int         `json:"hours"`
}

// DataHandler serves bucketed voltage aggregations.
type DataHandler struct {
	engine      Aggregator
	offsetHours int
}

// NewDataHandler constructs a DataHandler.
func NewDataHandler(engine Aggregator, offsetHours int) *DataHandler {
	return &DataHandler{engine: engine, offsetHours: offsetHours}
}

// ServeHTTP handles GET /api/v1/data.
func (h *DataHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.engine == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	req, err := parseDataRequest(r)
	if err != nil {
		metrics.ObserveQuery("data", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	buckets, err := h.engine.Aggregate(r.Context(), req)
	if err != nil {
		metrics.ObserveQuery("data", metrics.ResultError, time.Since(start))
		http.Error(w, "query data error", http.StatusInternalServerError)
		return
	}

	rows := make([]bucketRow, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, bucketRow{
			DeviceID:   b.DeviceID,
			Timestamp:  reading.FormatNaive(b.BucketStart, h.offsetHours),
			AvgVoltage: b.AvgVoltage,
			MinVoltage: b.MinVoltage,
			MaxVoltage: b.MaxVoltage,
			Count:      b.Count,
		})
	}

	hours := req.HoursBack
	if hours == 0 {
		hours = 24
	}
	metrics.ObserveQuery("data", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dataResponse{Data: rows, Scale: string(req.Granularity), Hours: hours})
}

// DevicesHandler serves the device ids present in the store.
type DevicesHandler struct {
	query DeviceLister
}

// NewDevicesHandler constructs a DevicesHandler.
func NewDevicesHandler(query DeviceLister) *DevicesHandler {
	return &DevicesHandler{query: query}
}

// ServeHTTP handles GET /api/v1/devices.
func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.query == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	ids, err := h.query.ListDeviceIDs(r.Context())
	if err != nil {
		metrics.ObserveQuery("devices", metrics.ResultError, time.Since(start))
		http.Error(w, "query devices error", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	metrics.ObserveQuery("devices", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"devices": ids})
}

// DeviceNamesHandler serves the id-to-name map from the cloud API, through
// the optional cache.
type DeviceNamesHandler struct {
	cloud CloudDeviceLister
	cache NameCache
}

// NewDeviceNamesHandler constructs a DeviceNamesHandler. cache may be nil.
func NewDeviceNamesHandler(cloud CloudDeviceLister, cache NameCache) *DeviceNamesHandler {
	return &DeviceNamesHandler{cloud: cloud, cache: cache}
}

// ServeHTTP handles GET /api/v1/device-names.
func (h *DeviceNamesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.cloud == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	if h.cache != nil {
		if names, ok := h.cache.GetNames(r.Context()); ok {
			metrics.ObserveQuery("device-names", metrics.ResultSuccess, time.Since(start))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"devices": names})
			return
		}
	}

	devices, err := h.cloud.ListDevices(r.Context())
	if err != nil {
		metrics.ObserveQuery("device-names", metrics.ResultError, time.Since(start))
		http.Error(w, "cloud device query error", http.StatusBadGateway)
		return
	}

	names := make(map[string]string, len(devices))
	for _, device := range devices {
		if device.ID == "" {
			continue
		}
		name := device.Name
		if name == "" {
			name = device.ID
		}
		names[device.ID] = name
	}

	if h.cache != nil {
		_ = h.cache.SetNames(r.Context(), names)
	}

	metrics.ObserveQuery("device-names", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"devices": names})
}

type statsRow struct {
	DeviceID      string  `json:"device_id"`
	TotalReadings int     `json:"total_readings"`
	AvgVoltage    float64 `json:"avg_voltage"`
	MinVoltage    float64 `json:"min_voltage"`
	MaxVoltage    float64 `json:"max_voltage"`
	FirstReading  string  `json:"first_reading"`
	LastReading   string  `json:"last_reading"`
}

// StatsHandler serves per-device summary statistics.
type StatsHandler struct {
	engine      Aggregator
	offsetHours int
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(engine Aggregator, offsetHours int) *StatsHandler {
	return &StatsHandler{engine: engine, offsetHours: offsetHours}
}

// ServeHTTP handles GET /api/v1/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.engine == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	req, err := parseStatsRequest(r)
	if err != nil {
		metrics.ObserveQuery("stats", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := h.engine.Stats(r.Context(), req)
	if err != nil {
		metrics.ObserveQuery("stats", metrics.ResultError, time.Since(start))
		http.Error(w, "query stats error", http.StatusInternalServerError)
		return
	}

	rows := make([]statsRow, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, statsRow{
			DeviceID:      s.DeviceID,
			TotalReadings: s.Count,
			AvgVoltage:    s.AvgVoltage,
			MinVoltage:    s.MinVoltage,
			MaxVoltage:    s.MaxVoltage,
			FirstReading:  reading.FormatNaive(s.FirstTimestamp, h.offsetHours),
			LastReading:   reading.FormatNaive(s.LastTimestamp, h.offsetHours),
		})
	}

	metrics.ObserveQuery("stats", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"stats": rows})
}

func parseDataRequest(r *http.Request) (analytics.Request, error) {
	granularity, err := analytics.ParseGranularity(r.URL.Query().Get("scale"))
	if err != nil {
		return analytics.Request{}, err
	}

	req := analytics.Request{Granularity: granularity}
	if req.HoursBack, err = parseHours(r); err != nil {
		return analytics.Request{}, err
	}
	if req.MinVoltage, err = parseFloatQuery(r, "min_voltage"); err != nil {
		return analytics.Request{}, err
	}
	if req.MaxVoltage, err = parseFloatQuery(r, "max_voltage"); err != nil {
		return analytics.Request{}, err
	}
	req.DeviceID = r.URL.Query().Get("device_id")
	return req, nil
}

func parseStatsRequest(r *http.Request) (analytics.StatsRequest, error) {
	var req analytics.StatsRequest
	var err error
	if req.HoursBack, err = parseHours(r); err != nil {
		return analytics.StatsRequest{}, err
	}
	if req.MinVoltage, err = parseFloatQuery(r, "min_voltage"); err != nil {
		return analytics.StatsRequest{}, err
	}
	if req.MaxVoltage, err = parseFloatQuery(r, "max_voltage"); err != nil {
		return analytics.StatsRequest{}, err
	}
	req.DeviceID = r.URL.Query().Get("device_id")
	return req, nil
}

func parseHours(r *http.Request) (int, error) {
	value := r.URL.Query().Get("hours")
	if value == "" {
		return 0, nil
	}
	hours, err := strconv.Atoi(value)
	if err != nil || hours < 1 {
		return 0, errInvalidHours
	}
	return hours, nil
}

func parseFloatQuery(r *http.Request, key string) (*float64, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, errInvalidFloat(key)
	}
	return &parsed, nil
}
