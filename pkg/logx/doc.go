// Package logx configures postpilot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps console
// output readable (short timestamp + short caller) and file output
// JSON-structured, with runtime level/sink swapping via Service.Apply.
package logx
