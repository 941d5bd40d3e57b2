// Package server hosts the Fiber HTTP service: the request-ID middleware,
// the source registry built from config and the Prometheus endpoint. Route
// groups live in server/routes and receive their collaborators explicitly, so
// tests can mount them on a bare app with fakes.
package server
