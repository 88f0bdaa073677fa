package config

import (
	"os"
	"strings"
)

// ResolverSettings holds the env-driven tuning knobs of the resolution engine.
//
// Set via env:
// - FUZZY_THRESHOLD (default 75)
// - INGEST_CONCURRENCY (default 4)
// - AUTO_CREATE_UNMATCHED (default true)
// - BRAIN_PATH (default data/brain.json)
// - BRAIN_GCS_BUCKET, BRAIN_GCS_OBJECT (optional mirror)
// - NORMALIZER_RULES_PATH (optional YAML tables)
// - SEED_CATALOG_PATH (optional .xlsx)
type ResolverSettings struct {
	FuzzyThreshold      int
	IngestConcurrency   int
	AutoCreateUnmatched bool
	BrainPath           string
	BrainGCSBucket      string
	BrainGCSObject      string
	NormalizerRulesPath string
	SeedCatalogPath     string
}

func DefaultResolverSettings() ResolverSettings {
	return ResolverSettings{
		FuzzyThreshold:      75,
		IngestConcurrency:   4,
		AutoCreateUnmatched: true,
		BrainPath:           "data/brain.json",
		BrainGCSObject:      "brain/brain.json",
	}
}

func LoadResolverSettings() ResolverSettings {
	s := DefaultResolverSettings()
	s.FuzzyThreshold = intFromEnv("FUZZY_THRESHOLD", s.FuzzyThreshold)
	if s.FuzzyThreshold < 0 || s.FuzzyThreshold > 100 {
		s.FuzzyThreshold = 75
	}
	s.IngestConcurrency = intFromEnv("INGEST_CONCURRENCY", s.IngestConcurrency)
	if s.IngestConcurrency <= 0 {
		s.IngestConcurrency = 1
	}
	s.AutoCreateUnmatched = boolFromEnv("AUTO_CREATE_UNMATCHED", s.AutoCreateUnmatched)
	if v := strings.TrimSpace(os.Getenv("BRAIN_PATH")); v != "" {
		s.BrainPath = v
	}
	s.BrainGCSBucket = strings.TrimSpace(os.Getenv("BRAIN_GCS_BUCKET"))
	if v := strings.TrimSpace(os.Getenv("BRAIN_GCS_OBJECT")); v != "" {
		s.BrainGCSObject = v
	}
	s.NormalizerRulesPath = strings.TrimSpace(os.Getenv("NORMALIZER_RULES_PATH"))
	s.SeedCatalogPath = strings.TrimSpace(os.Getenv("SEED_CATALOG_PATH"))
	return s
}
