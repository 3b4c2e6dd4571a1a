// Package engine is the composition root that assembles the preparation
// pipeline and the provider adapters from configuration. Frontends load a
// Config, build an Engine, and call Prepare to inspect what would be sent or
// Send to talk to a provider; activity is observable through an EventBus.
package engine
