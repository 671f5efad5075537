// Package api holds the request and response types of the GroundRAG HTTP API.
//
// # API Overview
//
// GroundRAG exposes a small JSON API:
//   - POST /api/v1/retrieve   classify a query and gather context items
//   - POST /api/v1/citations  split a generated answer into text and citations
//   - POST /api/v1/resolve    locate a claim inside its source document
//   - POST /api/v1/turn       generate a cited answer for one turn
//   - GET  /health, /healthz, /ready, /version
//
// Prometheus metrics are served on a separate port at /metrics.
//
// # Authentication
//
// When API keys are configured, requests carry the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// When JWT is configured, requests carry a bearer token instead:
//
//	Authorization: Bearer <token>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
