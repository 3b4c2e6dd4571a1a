// Package convert turns an agent conversation log into the provider-ready
// message sequence sent to an LLM API.
//
// The pipeline has three stages, each usable on its own:
//   - [Normalize] rewrites one log message into one or more messages whose
//     user and assistant content is always a part sequence. Tool calls become
//     text and tool results become synthetic user messages.
//   - [Aggregate] folds adjacent messages that share role, lifetime, provider
//     options and tags into one.
//   - [Annotator] marks up to four locations as cache anchors.
//
// [Convert] runs all three. Every stage is pure: inputs are never modified
// and outputs never alias them, so calls may run concurrently.
package convert
