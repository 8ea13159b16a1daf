// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults, plus an optional YAML overlay for the group routing table
// and message templates.
//
// # Configuration Structure
//
// GitHub settings:
//
//	STARGATE_GITHUB_TOKEN="ghp_..."          # required
//	STARGATE_GITHUB_API_URL="https://api.github.com"
//	STARGATE_GITHUB_PAGE_SIZE="100"
//	STARGATE_GITHUB_MAX_RETRIES="3"
//	STARGATE_GITHUB_PROBE_PAGE_CAP="20"
//
// Ledger settings:
//
//	STARGATE_DB_DRIVER="sqlite3"  # sqlite3, postgres
//	STARGATE_DB_DSN="stargate.db"
//
// Verification settings:
//
//	STARGATE_VERIFY_WINDOW="5m"
//	STARGATE_VERIFY_GRACE="1m"
//
// Routing settings:
//
//	STARGATE_DEFAULT_REPO="octo/repo"
//	STARGATE_GROUP_REPOS="12345:octo/repo,67890:other/repo"
//
// Transport and server settings:
//
//	STARGATE_ONEBOT_LISTEN=":8081"
//	STARGATE_ONEBOT_API="http://127.0.0.1:5700"
//	STARGATE_ONEBOT_SELF_ID="10001"
//	STARGATE_ADMIN_ADDR=":8080"
//	STARGATE_SYNC_SCHEDULE="0 4 * * *"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Default repo: %s\n", cfg.Routing.DefaultRepo)
//	fmt.Printf("Window: %s\n", cfg.Verify.Window)
//
// # Related Packages
//
//   - pkg/router: Consumes the routing table
//   - pkg/templates: Consumes the template set
package config
