// Package ranking fuses per-signal scores into one match confidence and
// manages the versioned weight vector used to do it.
//
// Basic usage:
//
//	// Load calibration at startup; invalid files are rejected here, not per request.
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		return err
//	}
//	registry, err := ranking.NewRegistry(weights, logger)
//
//	// Per ranking call: read one snapshot and fuse with it.
//	w := registry.Active()
//	fusion := ranking.Fuse(scores, w)
//
// Renormalization:
//
// Weights are renormalized on every call over the signals that are available
// for that pair, so disabling an optional service (NLP, vision) shifts weight
// to the remaining signals instead of dragging scores toward zero. When no
// weighted signal is available the fused score is 0 and the result is flagged
// low confidence.
//
// Rollout:
//
// Registry holds the active vector behind an atomic pointer; readers never
// lock and never see a partially updated vector. In multi-replica deployments
// the active vector is persisted in a SnapshotStore and a Syncer on each
// replica publishes newer versions into its local Registry.
package ranking
