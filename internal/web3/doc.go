// Package web3 defines the wallet capability consumed by the executor: reading
// balances, submitting transfers and simulating transactions against an
// account. It also holds the YAML chain and token book definitions shared by
// the concrete chain implementations.
package web3
