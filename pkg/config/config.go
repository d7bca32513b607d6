// Package config loads the analyzer's run configuration: the on-disk
// analysis_config.v1 document plus environment-variable overrides for the
// knobs operators tune most often. None of these values ever enter a hashed
// artifact, but two of them can change what the Analyzer concludes for a
// fixed (NIR, SpecDB, version triple) input: MaxIterations bounds the
// fixpoint work, and MatchContext selects which contracts match.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/sappp/core/pkg/errkind"
	"github.com/sappp/core/pkg/specdb"
)

const SchemaVersion = "analysis_config.v1"

const defaultMaxIterations = 50

// Config is the run-time tuning the CLI threads into the Analyzer and
// Validator. It is loaded from an optional --config file and then from
// environment variables, in that order, so an env var always wins.
type Config struct {
	MaxIterations int
	Jobs          int
	MemoryDomain  string
	MatchContext  specdb.MatchContext
}

// Default returns the configuration a run gets with no --config file and no
// environment overrides.
func Default() Config {
	return Config{MaxIterations: defaultMaxIterations, Jobs: 1}
}

type budgetDoc struct {
	MaxIterations int `json:"max_iterations"`
}

type matchContextDoc struct {
	ABI            string   `json:"abi"`
	LibraryVersion string   `json:"library_version"`
	Conditions     []string `json:"conditions"`
}

type fileDoc struct {
	SchemaVersion string          `json:"schema_version"`
	Budget        budgetDoc       `json:"budget"`
	MemoryDomain  string          `json:"memory_domain"`
	MatchContext  matchContextDoc `json:"match_context"`
}

// LoadFile reads an analysis_config.v1 document. An empty path returns
// Default() unchanged.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errkind.Wrap(errkind.KindIO, err, "read config file %s", path)
	}
	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Config{}, errkind.Wrap(errkind.KindSchemaInvalid, err, "parse config file %s", path)
	}
	if doc.SchemaVersion != SchemaVersion {
		return Config{}, errkind.New(errkind.KindSchemaVersion, "config schema_version "+doc.SchemaVersion+" is not "+SchemaVersion)
	}
	if doc.Budget.MaxIterations > 0 {
		cfg.MaxIterations = doc.Budget.MaxIterations
	}
	cfg.MemoryDomain = doc.MemoryDomain
	cfg.MatchContext = specdb.MatchContext{
		ABI:            doc.MatchContext.ABI,
		LibraryVersion: doc.MatchContext.LibraryVersion,
		Conditions:     doc.MatchContext.Conditions,
	}
	return cfg, nil
}

// ApplyEnv overrides cfg's tunable fields from SAPPP_MAX_ITERATIONS and
// SAPPP_JOBS, matching the getenv-with-default idiom the rest of this
// codebase's ambient configuration uses: an unset or unparsable variable
// leaves the existing value untouched.
func ApplyEnv(cfg Config) Config {
	cfg.MaxIterations = getEnvInt("SAPPP_MAX_ITERATIONS", cfg.MaxIterations)
	cfg.Jobs = getEnvInt("SAPPP_JOBS", cfg.Jobs)
	return cfg
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
