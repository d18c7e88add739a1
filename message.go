package snsverify

import (
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	TypeNotification             = "Notification"
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// Message is a notification envelope as a mapping from field name to value.
// A field is present exactly when its key is in the map.
type Message map[string]string

// Field returns the value of the named field and whether it is present.
func (m Message) Field(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

func (m Message) clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ParseMessage decodes a JSON envelope. String members become fields, null
// members are treated as absent and members of any other type (such as
// MessageAttributes) are ignored.
func ParseMessage(data []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, withKind(ErrMalformedMessage, err)
	}
	if raw == nil {
		return nil, errors.Wrap(ErrMalformedMessage, "envelope is null")
	}

	m := make(Message, len(raw))
	for k, v := range raw {
		if string(v) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		m[k] = s
	}
	return m, nil
}

type BaseMessage struct {
	Type             string
	MessageID        string `json:"MessageId"`
	TopicARN         string `json:"TopicArn"`
	Message          string
	Timestamp        string
	SignatureVersion string
	Signature        string
	SigningCertURL   string

	// fields holds the envelope exactly as decoded, so that presence
	// survives a round trip through the typed structs.
	fields Message
}

// Fields converts the envelope into a Message. A decoded envelope returns
// the fields it was decoded from. One built by hand cannot tell an empty
// field from an absent one and leaves every empty field out, so a missing
// required field is still reported by the canonicalizer.
func (m *BaseMessage) Fields() Message {
	if m.fields != nil {
		return m.fields.clone()
	}
	f := Message{}
	setIfNotEmpty(f, "Type", m.Type)
	setIfNotEmpty(f, "MessageId", m.MessageID)
	setIfNotEmpty(f, "TopicArn", m.TopicARN)
	setIfNotEmpty(f, "Message", m.Message)
	setIfNotEmpty(f, "Timestamp", m.Timestamp)
	setIfNotEmpty(f, "SignatureVersion", m.SignatureVersion)
	setIfNotEmpty(f, "Signature", m.Signature)
	setIfNotEmpty(f, "SigningCertURL", m.SigningCertURL)
	return f
}

func (m *BaseMessage) keepFields(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	fields, err := ParseMessage(data)
	if err != nil {
		return err
	}
	m.fields = fields
	return nil
}

type MessageAttribute struct {
	Type  string
	Value string
}

type Notification struct {
	BaseMessage
	Subject           string
	UnsubscribeURL    string
	MessageAttributes map[string]MessageAttribute
}

func (n *Notification) UnmarshalJSON(data []byte) error {
	type plain Notification
	if err := json.Unmarshal(data, (*plain)(n)); err != nil {
		return err
	}
	return n.keepFields(data)
}

func (n *Notification) Fields() Message {
	f := n.BaseMessage.Fields()
	if n.fields == nil {
		setIfNotEmpty(f, "Subject", n.Subject)
		setIfNotEmpty(f, "UnsubscribeURL", n.UnsubscribeURL)
	}
	return f
}

type SubscriptionConfirmation struct {
	BaseMessage
	SubscribeURL string
	Token        string
}

func (c *SubscriptionConfirmation) UnmarshalJSON(data []byte) error {
	type plain SubscriptionConfirmation
	if err := json.Unmarshal(data, (*plain)(c)); err != nil {
		return err
	}
	return c.keepFields(data)
}

func (c *SubscriptionConfirmation) Fields() Message {
	f := c.BaseMessage.Fields()
	if c.fields == nil {
		setIfNotEmpty(f, "SubscribeURL", c.SubscribeURL)
		setIfNotEmpty(f, "Token", c.Token)
	}
	return f
}

type UnsubscribeConfirmation struct {
	BaseMessage
	SubscribeURL string
	Token        string
}

func (c *UnsubscribeConfirmation) UnmarshalJSON(data []byte) error {
	type plain UnsubscribeConfirmation
	if err := json.Unmarshal(data, (*plain)(c)); err != nil {
		return err
	}
	return c.keepFields(data)
}

func (c *UnsubscribeConfirmation) Fields() Message {
	f := c.BaseMessage.Fields()
	if c.fields == nil {
		setIfNotEmpty(f, "SubscribeURL", c.SubscribeURL)
		setIfNotEmpty(f, "Token", c.Token)
	}
	return f
}

func setIfNotEmpty(m Message, key, value string) {
	if value != "" {
		m[key] = value
	}
}
