// Package faceswap wraps the face swap provider.
//
// The default async style submits a task and polls for its result, matching
// Fotor's aiart API. The sync style posts the same payload and receives the
// image (or a result URL) in the response. Both encode the child photo and
// the character crop as data URLs and authenticate with a bearer token.
//
// Every failure is tagged services.ErrProvider except poll exhaustion, which
// is services.ErrTimeout. Calls are independent; the pipeline fans them out.
package faceswap
