// Package app provides the application state layer.
//
// SessionStore holds the current authenticated user and applies favorite-tool
// mutations round-tripped through the remote user API. HistoryStore caches the
// user's histories and reloads them on user-change events. Both depend on
// domain interfaces, not concrete implementations.
package app
