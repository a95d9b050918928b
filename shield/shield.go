// Package shield provides the HTTP middleware the herokit worker fronts its
// routes with: security headers, HEAD handling, request body limits, admin
// Basic Auth, and a small per-IP rate limiter for the admin surface.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.HeadToGet)
package shield
