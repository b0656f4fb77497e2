// Package providerhttp is the HTTP transport shared by the face swap,
// stylization and vision clients.
//
// # Retry Behaviour
//
// Requests marked Idempotent are retried on HTTP 408/429/5xx and network
// timeouts with exponential backoff (base 1s, max 10s, up to 3 attempts by
// default). Non-idempotent requests are retried only on 429, where the
// provider rejected the call before doing any work. Context cancellation
// aborts retries immediately.
//
// # Entry Points
//
// New: construct a client with a per-request timeout.
// Client.Do: send a request, returning the full response body.
// Client.JSON: POST or GET a JSON payload and decode the reply.
// Client.Download: fetch a result URL (http, https or data).
// DataURL / FileDataURL: encode images for providers that accept inline data.
package providerhttp
