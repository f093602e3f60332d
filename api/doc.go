// Package api defines the wire types of the VisionFlow HTTP API.
//
// # API Overview
//
// VisionFlow exposes a RESTful API for the screenshot automation pipeline:
//   - Starting a pipeline run from a screenshot and an intent
//   - Resuming a run paused at the verification gate
//   - Querying the stored record of a run
//   - Health monitoring and metrics
//
// # Authentication
//
// API endpoints require authentication via the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// Health, readiness and version endpoints are exempt.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Envelope
//
// Every JSON response is wrapped in the handlers.Response envelope:
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "req-..."}
//
// Errors carry a structured body instead of data:
//
//	{"success": false, "error": {"code": "INVALID_INPUT", "message": "..."}}
package api
