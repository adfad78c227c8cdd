// Package config loads the WalletPilot daemon configuration from a JSON file
// and overlays secrets and endpoints from the environment.
package config
