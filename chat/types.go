// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package chat

// MessageContent is the editable body of a channel or webhook message.
// Zero-value fields are omitted from the request so partial edits do
// not clear unrelated parts of the message.
type MessageContent struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`

	// AllowedMentions restricts which mention types actually ping.
	// Nil uses the platform default.
	AllowedMentions *AllowedMentions `json:"allowed_mentions,omitempty"`
}

// Embed is a rich content block within a message.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField is a titled key/value block within an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the footer line of an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// AllowedMentions restricts which mention types in a message actually
// notify users. Parse lists the mention classes to honor ("roles",
// "users", "everyone").
type AllowedMentions struct {
	Parse []string `json:"parse"`
	Roles []string `json:"roles,omitempty"`
}

// Message is the subset of the platform's message object the core
// reads back from send/edit responses.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// Member is the platform's guild member object, reduced to the fields
// capability checks need.
type Member struct {
	User        MemberUser `json:"user"`
	RoleIDs     []string   `json:"roles"`
	Permissions string     `json:"permissions,omitempty"`
}

// MemberUser identifies the user behind a guild member.
type MemberUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
