package config

const (
	// MaxConversationTitleLength is the maximum length for conversation titles.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255).
	MaxConversationTitleLength = 255

	// MaxMessageContentLength bounds one chat message accepted from a client.
	MaxMessageContentLength = 100_000

	// MaxMessagesPerRequest bounds the prior transcript a client may send.
	MaxMessagesPerRequest = 500

	// MaxAttachmentsPerRequest bounds the attachment keys on one stream request.
	MaxAttachmentsPerRequest = 10
)
