/*
Package config loads runtime configuration from the environment.

A .env file is read in development (GO_ENV unset or "development") so local
runs work without exporting anything. In production the process environment
is authoritative and no .env file is required.
*/
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads .env when running in development. Missing .env is not an
// error outside development either way.
func Load() {
	goEnv := os.Getenv("GO_ENV")
	if goEnv == "" || goEnv == "development" {
		_ = godotenv.Load()
	}
}

// Config holds everything the server needs at startup.
type Config struct {
	GoEnv  string
	Port   int
	DBPath string

	// Settlement gateway (core banking system)
	SettlementBaseURL     string
	SettlementSystemID    string
	SettlementUsername    string
	SettlementPassword    string
	SettlementTimeout     time.Duration
	SettlementMaxInFlight int

	// Year-end promotion scheduler
	EndOfYearDate        string // "MM-DD", e.g. "12-01"
	CarryForwardBalances bool
	BillingCurrency      string

	// Default tenant scope for single-school deployments
	TenantID          string
	CollectionAccount string
	BranchCode        string
	Track             string
	ContinueToALevel  bool
}

// Get builds a Config from the environment, applying defaults for anything
// unset. Call Load first in development.
func Get() Config {
	return Config{
		GoEnv:  os.Getenv("GO_ENV"),
		Port:   envInt("PORT", 8080),
		DBPath: envString("DB_PATH", "./fees.db"),

		SettlementBaseURL:     os.Getenv("SETTLEMENT_BASE_URL"),
		SettlementSystemID:    os.Getenv("SETTLEMENT_SYSTEM_ID"),
		SettlementUsername:    os.Getenv("SETTLEMENT_USERNAME"),
		SettlementPassword:    os.Getenv("SETTLEMENT_PASSWORD"),
		SettlementTimeout:     time.Duration(envInt("SETTLEMENT_TIMEOUT_SECONDS", 30)) * time.Second,
		SettlementMaxInFlight: envInt("SETTLEMENT_MAX_IN_FLIGHT", 8),

		EndOfYearDate:        envString("END_OF_YEAR_DATE", "12-01"),
		CarryForwardBalances: envBool("CARRY_FORWARD_BALANCES", true),
		BillingCurrency:      envString("BILLING_CURRENCY", "USD"),

		TenantID:          os.Getenv("TENANT_ID"),
		CollectionAccount: os.Getenv("COLLECTION_ACCOUNT"),
		BranchCode:        os.Getenv("BRANCH_CODE"),
		Track:             envString("TRACK", "COMBINED"),
		ContinueToALevel:  envBool("CONTINUE_TO_A_LEVEL", false),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
