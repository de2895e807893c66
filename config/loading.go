package config

import (
	"time"
)

var (
	// TopScores limits how many networks are written to each ranked report
	TopScores = makeConfig("TOP_SCORES", 100)

	// SamplingInterval thins lookups of unknown addresses. Zero disables sampling.
	SamplingInterval = makeConfig("SAMPLING_INTERVAL", time.Duration(0))
	SamplingSeed     = makeConfig("SAMPLING_SEED", int64(0))

	MagnitudeBucket = makeConfig("MAGNITUDE_BUCKET", time.Minute)
	RateInterval    = makeConfig("RATE_INTERVAL", time.Hour)

	// RdapUrl is the base of the RDAP service used to resolve networks
	RdapUrl         = makeConfig("RDAP_URL", "https://rdap.arin.net/registry")
	RdapRate        = makeConfig("RDAP_RATE", 5.0)
	ResolverTimeout = makeConfig("RESOLVER_TIMEOUT", 10*time.Second)

	// RedisAddr enables the shared resolver cache when set
	RedisAddr         = makeConfig("REDIS_ADDR", "")
	RedisPassword     = makeConfig("REDIS_PASSWORD", "")
	ResolverCacheSize = makeConfig("RESOLVER_CACHE_SIZE", 10000)
	CacheDuration     = makeConfig("CACHE_DURATION", 7*24*time.Hour)

	// Resolver picks where networks come from: rdap, mmdb or caida. Empty picks mmdb when MmdbAsnPath is set and
	// rdap otherwise.
	Resolver = makeConfig("RESOLVER", "")

	// CaidaPaths are local prefix2as files. The latest datasets are downloaded when none are given.
	CaidaPaths = makeConfig("CAIDA_PATHS", []string{})

	// MmdbAsnPath switches resolution to a local GeoLite2 ASN database
	MmdbAsnPath     = makeConfig("MMDB_ASN_PATH", "")
	MmdbCountryPath = makeConfig("MMDB_COUNTRY_PATH", "")

	OutputDir     = makeConfig("OUTPUT_DIR", "reports")
	ReportFormats = makeConfig("REPORT_FORMATS", []string{"csv", "tsv"})
	IndexKind     = makeConfig("INDEX_KIND", "tree")
	ApiAddr       = makeConfig("API_ADDR", ":8080")
	LogLevel      = makeConfig("LOG_LEVEL", "info")

	ProgressEvery = makeConfig("PROGRESS_EVERY", 100000)
	ReviewEvery   = makeConfig("REVIEW_EVERY", 0)

	// ErrorSampleLimit caps the rejected observations kept per kind, negative keeps all of them
	ErrorSampleLimit = makeConfig("ERROR_SAMPLE_LIMIT", 1000)
)
