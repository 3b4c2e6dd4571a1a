// Package history provides the data model for agent conversation logs and
// the provider-ready message sequences derived from them.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/msgprep/pkg/history/role]: conversation roles (system, user, assistant, tool)
//   - [github.com/germanamz/msgprep/pkg/history/provideropts]: per-provider option bags and cache markers
//   - [github.com/germanamz/msgprep/pkg/history/content]: content parts (text, file, tool call) and tool results
//   - [github.com/germanamz/msgprep/pkg/history/message]: messages with tags, lifetimes, and provider options
//   - [github.com/germanamz/msgprep/pkg/history/chat]: mutable conversation container
//
// No provider or API code is included. The conversion into provider-ready
// sequences lives in [github.com/germanamz/msgprep/pkg/convert].
package history
