// Package model manages the lifecycle of the loaded inference
// backends. It loads them as a unit, hands them out to the dispatcher,
// and performs the full unload-reclaim-reload cycle that recovery
// depends on.
package model
