// Package match decides which face region in a picture is the protagonist.
//
// Pictures smaller than the configured minimum dimension are rejected before
// any detection. A picture with a single detected face is accepted without
// comparison, since most template pages show one character. With several
// faces each region is embedded and compared by Euclidean distance against
// every reference embedding; the smallest distance over all (region,
// reference) pairs wins and must fall below the similarity threshold.
//
// The accepted region is padded, clamped to the picture, and written as a
// JPEG crop beside the source picture for the face swap provider.
package match
