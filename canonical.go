package snsverify

import "bytes"

// notificationFields lists the signed fields of a notification in signing
// order. Subject is signed only when the message carries one.
var notificationFields = []string{"Message", "MessageId", "Subject", "Timestamp", "TopicArn", "Type"}

// subscriptionFields lists the signed fields of subscription and unsubscribe
// confirmations in signing order.
var subscriptionFields = []string{"Message", "MessageId", "SubscribeURL", "Timestamp", "Token", "TopicArn", "Type"}

// BuildSignString returns the canonical string a notification was signed
// over: each selected field name and value, each followed by a newline.
// A missing field is an error, never an empty value.
func BuildSignString(m Message) ([]byte, error) {
	return buildSignString(m, notificationFields, "Subject")
}

// BuildSubscriptionSignString is BuildSignString for SubscriptionConfirmation
// and UnsubscribeConfirmation messages.
func BuildSubscriptionSignString(m Message) ([]byte, error) {
	return buildSignString(m, subscriptionFields, "")
}

// SigningStringFor picks the canonical form that matches the message Type.
func SigningStringFor(m Message) ([]byte, error) {
	switch m["Type"] {
	case TypeSubscriptionConfirmation, TypeUnsubscribeConfirmation:
		return BuildSubscriptionSignString(m)
	default:
		return BuildSignString(m)
	}
}

func buildSignString(m Message, keys []string, optional string) ([]byte, error) {
	var buf bytes.Buffer
	for _, key := range keys {
		value, ok := m.Field(key)
		if !ok {
			if key == optional {
				continue
			}
			return nil, missingField(key)
		}
		buf.WriteString(key)
		buf.WriteByte('\n')
		buf.WriteString(value)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
