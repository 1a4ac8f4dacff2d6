// Package template parses YAML composite templates into typed resource
// descriptions. Expansion runs the affinity solver over the declared
// containers and volumes, so descriptions come out of Import already
// carrying their co-location constraints.
package template
