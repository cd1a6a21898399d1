// Package country defines the plugin contract each national bankruptcy
// source implements, the Registry that selects plugins by ISO code, and the
// shared NACE classification tables.
package country
