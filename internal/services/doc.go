// Package services defines shared utilities consumed by the pipeline stages
// and the external provider clients.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, tokens, stage names, and correlation
//     identifiers for logging.
//   - Failure class markers plus the Wrap helper so every error reaching a job
//     record is one of fatal input, provider, timeout, no match or render.
//
// Provider clients live in subpackages (faceswap, stylize, vision).
package services
