// Package chat provides a mutable container for a conversation log.
package chat

import (
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/role"
)

// Chat is a mutable conversation container. The zero value is ready to use.
// Chat is not safe for concurrent use; callers must synchronize externally.
type Chat struct {
	messages []message.Message
}

// New creates a Chat pre-populated with the given messages.
func New(msgs ...message.Message) *Chat {
	return &Chat{messages: msgs}
}

// Append adds one or more messages to the conversation.
func (c *Chat) Append(msgs ...message.Message) {
	c.messages = append(c.messages, msgs...)
}

// Len returns the number of messages in the conversation.
func (c *Chat) Len() int {
	return len(c.messages)
}

// At returns the message at the given index.
// It panics if the index is out of range.
func (c *Chat) At(index int) message.Message {
	return c.messages[index]
}

// Last returns the most recent message and true, or a zero Message and false
// if the conversation is empty.
func (c *Chat) Last() (message.Message, bool) {
	if len(c.messages) == 0 {
		return message.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Messages returns a deep copy of all messages in the conversation.
func (c *Chat) Messages() []message.Message {
	cp := message.CloneAll(c.messages)
	if cp == nil {
		cp = []message.Message{}
	}
	return cp
}

// Each iterates over messages, calling fn for each one. If fn returns false,
// iteration stops early.
func (c *Chat) Each(fn func(int, message.Message) bool) {
	for i, m := range c.messages {
		if !fn(i, m) {
			return
		}
	}
}

// SystemPrompt returns the text content of the first system message, or an
// empty string if there is none.
func (c *Chat) SystemPrompt() string {
	for _, m := range c.messages {
		if m.Role == role.System {
			return m.TextContent()
		}
	}
	return ""
}

// Expire drops the messages whose lifetime ends with endOf and returns how
// many were removed.
func (c *Chat) Expire(endOf message.TTL) int {
	before := len(c.messages)
	c.messages = message.Expire(c.messages, endOf)
	return before - len(c.messages)
}
