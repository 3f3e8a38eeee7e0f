// Package features extracts fixed-schema numeric feature vectors from
// events for anomaly detection. Extraction is total and deterministic:
// the same event always yields the same vector, and incomplete records
// extract with neutral zero values instead of failing.
package features

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"cloudsentinel/internal/schema"
)

// Bounds for the pseudo-identity hash features. These are deterministic
// bucketing signals, not security hashes; collisions are expected.
const (
	ActorHashMod   = 10000
	IPHashMod      = 10000
	CountryHashMod = 1000
)

// knownCountries is the fixed allow-list of common source countries.
var knownCountries = map[string]bool{
	"US": true,
	"GB": true,
	"CA": true,
	"AU": true,
}

// Names is the canonical ordered feature schema. Training freezes a copy
// of this order; vectors are aligned against the frozen copy at predict
// time so schema drift between versions stays explicit.
var Names = []string{
	"hour_of_day",
	"day_of_week",
	"is_weekend",
	"is_business_hours",
	"actor_id_hash",
	"ip_hash",
	"is_login_event",
	"is_access_event",
	"is_modify_event",
	"is_delete_event",
	"country_hash",
	"is_known_country",
	"is_failed_attempt",
}

// Vector is a named feature mapping produced by Extract.
type Vector map[string]float64

// Values returns the vector's values aligned to the given feature schema.
// Features absent from the vector default to zero.
func (v Vector) Values(names []string) []float64 {
	out := make([]float64, len(names))
	for i, name := range names {
		out[i] = v[name]
	}
	return out
}

// Extract computes the feature vector for an event.
func Extract(ev *schema.Event) Vector {
	v := make(Vector, len(Names))

	// Temporal features
	ts := ev.Timestamp
	hour := float64(ts.Hour())
	// Monday=0 .. Sunday=6
	weekday := float64((int(ts.Weekday()) + 6) % 7)
	v["hour_of_day"] = hour
	v["day_of_week"] = weekday
	v["is_weekend"] = flag(weekday >= 5)
	v["is_business_hours"] = flag(ts.Hour() >= 9 && ts.Hour() <= 17)

	// Identity features
	v["actor_id_hash"] = boundedHash(ev.ActorID, ActorHashMod)
	v["ip_hash"] = boundedHash(ev.IPAddress, IPHashMod)

	// Event type features
	eventType := strings.ToLower(ev.EventType)
	v["is_login_event"] = flag(strings.Contains(eventType, "login"))
	v["is_access_event"] = flag(strings.Contains(eventType, "access"))
	v["is_modify_event"] = flag(strings.Contains(eventType, "modify") || strings.Contains(eventType, "update"))
	v["is_delete_event"] = flag(strings.Contains(eventType, "delete"))

	// Geographic features
	country := ev.Country()
	if country == "" {
		country = "unknown"
	}
	v["country_hash"] = boundedHash(country, CountryHashMod)
	v["is_known_country"] = flag(knownCountries[ev.Country()])

	// Outcome features
	v["is_failed_attempt"] = flag(ev.Status == schema.StatusFailed)

	return v
}

func boundedHash(s string, mod uint64) float64 {
	return float64(xxhash.Sum64String(s) % mod)
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
