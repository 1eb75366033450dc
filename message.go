package cloudaws

import (
	"fmt"
	"mime"
	"sort"
	"strings"
	"time"

	"github.com/Songmu/flextime"
)

// Well-known header names
const (
	// HeaderContentType is the message attribute name carrying the payload MIME type
	HeaderContentType = "contentType"
	// HeaderMessageID is the broker assigned message id
	HeaderMessageID = "MessageId"
	// HeaderReceiptHandle is the receipt handle used to delete or extend a message
	HeaderReceiptHandle = "ReceiptHandle"
	// HeaderLogicalResourceID is the logical queue name the message was received from
	HeaderLogicalResourceID = "LogicalResourceId"
	// HeaderSubject is used as the notification subject when publishing to a topic
	HeaderSubject = "Subject"
)

// MimeType is a parsed media type such as "text/plain;charset=UTF-8"
type MimeType struct {
	Type    string
	Subtype string
	Params  map[string]string
}

// ParseMimeType parses a media type string
func ParseMimeType(s string) (*MimeType, error) {
	mediaType, params, err := mime.ParseMediaType(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mime type %q: %w", s, err)
	}
	typ, subtype, ok := strings.Cut(mediaType, "/")
	if !ok || typ == "" || subtype == "" {
		return nil, fmt.Errorf("invalid mime type %q: missing subtype", s)
	}
	return &MimeType{Type: typ, Subtype: subtype, Params: params}, nil
}

// Charset returns the charset parameter, if any
func (m *MimeType) Charset() string {
	if m == nil {
		return ""
	}
	return m.Params["charset"]
}

func (m *MimeType) String() string {
	if m == nil {
		return ""
	}
	return mime.FormatMediaType(m.Type+"/"+m.Subtype, m.Params)
}

// Message is the structured form of a queue message handed to handlers
type Message struct {
	ID          string
	Timestamp   time.Time
	Payload     string
	Headers     map[string]string
	ContentType *MimeType

	// Queue is the logical name of the queue the message came from (empty for outgoing messages)
	Queue         string
	ReceiptHandle string
}

// NewMessage creates an outgoing message with a fresh id and timestamp
func NewMessage(payload string) *Message {
	return &Message{
		ID:        defaultIDGenerator.GenerateMessageID(),
		Timestamp: flextime.Now(),
		Payload:   payload,
		Headers:   map[string]string{},
	}
}

// Header returns a header value
func (m *Message) Header(name string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	v, ok := m.Headers[name]
	return v, ok
}

// SetHeader sets a header value, allocating the header map if needed
func (m *Message) SetHeader(name, value string) {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	m.Headers[name] = value
}

// HeaderNames returns the header names in lexical order
func (m *Message) HeaderNames() []string {
	names := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
