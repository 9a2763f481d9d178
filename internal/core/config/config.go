package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type KafkaCfg struct {
	Brokers string
	GroupID string
}

// BrokerList splits Brokers, dropping blanks and surrounding spaces.
func (k KafkaCfg) BrokerList() []string { return splitList(k.Brokers) }

type AuditCfg struct {
	Enabled    bool
	Topic      string
	BufferSize int
}

type InvalidationCfg struct {
	Enabled   bool
	Topic     string
	DedupSize int
}

type CacheCfg struct {
	Enabled      bool
	TTL          time.Duration
	Size         int
	RedisEnabled bool
	RedisAddr    string
	OpTimeout    time.Duration
	HotThreshold float64
	HotHalfLife  time.Duration
}

type ViewportCfg struct {
	Zoom float64
	Lat  float64
	Lng  float64
}

type Config struct {
	Addr              string
	LogLevel          string
	LogConsole        bool
	LogSampleN        int
	TitilerAllowlist  []string
	TitilerDefaultURL string
	UpstreamTimeout   time.Duration
	LayerCatalog      string
	SQLAPIURL         string
	ProxyURL          string
	H3Res             int
	HistogramBins     int
	AnalysisWorkers   int
	URLDebounce       time.Duration
	DefaultViewport   ViewportCfg
	MetricsEnabled    bool
	Cache             CacheCfg
	Kafka             KafkaCfg
	Audit             AuditCfg
	Invalidation      InvalidationCfg
}

// DefaultAllowlist covers the production TiTiler hosts and local development.
const DefaultAllowlist = "https://titiler.resilienceatlas.org,*.titiler.resilienceatlas.org,http://localhost"

func FromEnv() Config {
	res := getint("H3_RES", 7)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}
	lat, lng := parseCenter(getenv("DEFAULT_CENTER", "3.86,47.28"))

	return Config{
		Addr:              getenv("ADDR", ":8090"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogConsole:        getbool("LOG_CONSOLE", false),
		LogSampleN:        getint("LOG_SAMPLE_N", 0),
		TitilerAllowlist:  splitList(getenv("TITILER_ALLOWLIST", DefaultAllowlist)),
		TitilerDefaultURL: getenv("TITILER_DEFAULT_URL", "https://titiler.resilienceatlas.org"),
		UpstreamTimeout:   getduration("UPSTREAM_TIMEOUT", 30*time.Second),
		LayerCatalog:      getenv("LAYER_CATALOG", "configs/layers.yaml"),
		SQLAPIURL:         getenv("SQL_API_URL", "https://cdb.resilienceatlas.org/user/ra/api/v2/sql"),
		ProxyURL:          getenv("PROXY_URL", "http://localhost:8090"),
		H3Res:             res,
		HistogramBins:     getint("HISTOGRAM_BINS", 10),
		AnalysisWorkers:   getint("ANALYSIS_CONCURRENCY", 4),
		URLDebounce:       getduration("URL_DEBOUNCE", 100*time.Millisecond),
		DefaultViewport: ViewportCfg{
			Zoom: getfloat("DEFAULT_ZOOM", 2),
			Lat:  lat,
			Lng:  lng,
		},
		MetricsEnabled: getbool("METRICS_ENABLED", true),
		Cache: CacheCfg{
			Enabled:      getbool("INFO_CACHE_ENABLED", true),
			TTL:          getduration("INFO_CACHE_TTL", 10*time.Minute),
			Size:         getint("INFO_CACHE_SIZE", 512),
			RedisEnabled: getbool("REDIS_ENABLED", false),
			RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
			OpTimeout:    getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			HotThreshold: getfloat("INFO_CACHE_HOT_THRESHOLD", 1),
			HotHalfLife:  getduration("INFO_CACHE_HOT_HALFLIFE", 5*time.Minute),
		},
		Kafka: KafkaCfg{
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "layer-atlas-proxy"),
		},
		Audit: AuditCfg{
			Enabled:    getbool("AUDIT_ENABLED", false),
			Topic:      getenv("AUDIT_TOPIC", "analysis-requests"),
			BufferSize: getint("AUDIT_BUFFER", 1024),
		},
		Invalidation: InvalidationCfg{
			Enabled:   getbool("INVALIDATION_ENABLED", false),
			Topic:     getenv("INVALIDATION_TOPIC", "cog-updates"),
			DedupSize: getint("INVALIDATION_DEDUP_SIZE", 4096),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// split "a, b,,c" into [a b c]
func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "lat,lng"; falls back to the site default on bad input
func parseCenter(s string) (float64, float64) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) == 2 {
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 == nil && err2 == nil {
			return lat, lng
		}
	}
	return 3.86, 47.28
}
