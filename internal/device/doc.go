// Package device manages accelerator memory hygiene. The Reclaimer runs
// an ordered reclamation pass (garbage collection, stream sync, cache
// release, IPC handle cleanup, peak counter reset) between inference
// operations; Runtime abstracts the device the models execute on.
package device
