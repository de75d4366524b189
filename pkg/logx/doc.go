// Package logx is prodsched's structured logging on top of zerolog.
//
// Components derive loggers with With(Component("scheduler")) and tag
// records with the shared job and record keys. A Service owns the sinks
// (console, optional JSON file) and swaps them at runtime through Apply
// and Reopen.
package logx
