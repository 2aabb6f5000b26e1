// Package logx configures the bot's structured logging.
//
// It wraps zerolog in a small Logger type that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional admin sink that forwards warnings to an operator's QQ (min-level + rate limited)
package logx
