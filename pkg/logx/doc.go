// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so the rest of the codebase never imports zerolog directly:
// components take a logx.Logger, and the Service can re-point sinks
// (console/file/Telegram) at runtime when the config file changes.
package logx
