// Package redis caches token metadata read from the chain so repeated balance
// lookups of the same ERC-20 token skip the decimals() call.
package redis
