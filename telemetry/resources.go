// Package telemetry serves the plant's operational data (inverters, meters,
// weather station, transformer and the energy dashboard) through the
// read-through cache. Every resource maps to one stored-procedure result set,
// one cache key family and one TTL.
package telemetry

import "time"

// Resource describes one cached telemetry endpoint.
type Resource struct {
	// Name identifies the resource in fixtures and logs.
	Name string
	// Method is the RPC method name on the scada.Telemetry service.
	Method string
	// Key is the cache key, or the key prefix for PerID resources.
	Key string
	// PerID resources are cached separately for the full set ("<key>:all")
	// and for each device ("<key>:<id>").
	PerID bool
	// TTL is the default cache lifetime.
	TTL time.Duration
}

// Cache lifetimes. Aggregates and trend series change slowly and are
// expensive to compute, so they are kept longer.
const (
	LiveTTL      = 60 * time.Second
	AggregateTTL = 300 * time.Second
)

var (
	EnergyData      = Resource{Name: "energy-data", Method: "GetEnergyData", Key: "dashboard:energy-data", TTL: LiveTTL}
	InverterData    = Resource{Name: "inverter-data", Method: "GetInverterData", Key: "inverter:data", PerID: true, TTL: LiveTTL}
	InverterHeatmap = Resource{Name: "inverter-heatmap", Method: "GetInverterHeatmap", Key: "inverter:heatmap", TTL: AggregateTTL}
	MeterData       = Resource{Name: "meter-data", Method: "GetMeterData", Key: "mfm:data", PerID: true, TTL: LiveTTL}
	MeterTrend      = Resource{Name: "meter-trend", Method: "GetMeterTrend", Key: "mfm:trend", TTL: AggregateTTL}
	TransformerData = Resource{Name: "transformer-data", Method: "GetTransformerData", Key: "transformer:data", TTL: LiveTTL}
	WeatherData     = Resource{Name: "weather-data", Method: "GetWeatherData", Key: "wms:data", TTL: LiveTTL}
	WeatherTrend    = Resource{Name: "weather-trend", Method: "GetWeatherTrend", Key: "wms:trend", TTL: AggregateTTL}
	SoilingLoss     = Resource{Name: "soiling-loss", Method: "GetSoilingLoss", Key: "wms:soiling-loss", TTL: AggregateTTL}
)

// Resources lists every served resource.
var Resources = []Resource{
	EnergyData,
	InverterData,
	InverterHeatmap,
	MeterData,
	MeterTrend,
	TransformerData,
	WeatherData,
	WeatherTrend,
	SoilingLoss,
}

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "scada.Telemetry"

// FullMethod returns the gRPC method path, e.g.
// "/scada.Telemetry/GetInverterData". Policies match against it.
func (r Resource) FullMethod() string {
	return "/" + ServiceName + "/" + r.Method
}

// AllIDs is the id segment of the full-set key of a PerID resource. As a
// request id it is equivalent to the empty id.
const AllIDs = "all"

// CacheKey returns the key holding the result for id. id is ignored unless
// the resource is PerID; an empty id selects the full set.
func (r Resource) CacheKey(id string) string {
	if !r.PerID {
		return r.Key
	}
	if id == "" {
		id = AllIDs
	}
	return r.Key + ":" + id
}

// Lookup finds a resource by Name.
func Lookup(name string) (Resource, bool) {
	for _, r := range Resources {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}
