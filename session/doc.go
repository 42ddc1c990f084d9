// Package session houses the concrete core.SessionStore implementation and
// the Reaper that retires idle sessions. The interface itself (and the
// Session struct) live in the core package to centralize domain contracts.
// Keeping only implementations here prevents higher level packages (relay,
// engine) from depending on concrete storage.
//
// Add additional backends (Redis, Postgres, Firestore, etc.) in sub-packages
// without changing any calling code; only the wiring layer needs to decide
// which implementation to instantiate.
package session
