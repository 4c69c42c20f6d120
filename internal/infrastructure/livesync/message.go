package livesync

import (
	"encoding/json"
	"errors"
	"fmt"

	"networth/internal/domain/account"
)

// Kind is the envelope type of a live sync frame.
type Kind string

const (
	KindAccountUpdate     Kind = "account_update"
	KindTransactionUpdate Kind = "transaction_update"
)

var errMissingAccountID = errors.New("payload has no accountId")

// Message is a decoded inbound frame. The concrete type is one of
// AccountUpdateMessage, TransactionUpdateMessage or UnknownMessage.
type Message interface {
	Kind() Kind
	message()
}

// AccountUpdateMessage carries a balance delta for one account.
type AccountUpdateMessage struct {
	account.AccountUpdate
}

func (AccountUpdateMessage) Kind() Kind { return KindAccountUpdate }
func (AccountUpdateMessage) message()   {}

// TransactionUpdateMessage carries a new or changed transaction.
type TransactionUpdateMessage struct {
	account.TransactionUpdate
}

func (TransactionUpdateMessage) Kind() Kind { return KindTransactionUpdate }
func (TransactionUpdateMessage) message()   {}

// UnknownMessage is any frame whose type is not recognized.
// The payload is kept undecoded.
type UnknownMessage struct {
	Type    Kind
	Payload json.RawMessage
}

// Kind returns the frame's own type, so handlers registered for a
// specific unknown kind still receive it.
func (m UnknownMessage) Kind() Kind { return m.Type }
func (UnknownMessage) message()     {}

// envelope is the wire shape of every frame in both directions.
type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a raw frame into a Message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("decode envelope: missing type")
	}

	switch env.Type {
	case KindAccountUpdate:
		var msg AccountUpdateMessage
		if err := json.Unmarshal(env.Payload, &msg.AccountUpdate); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if msg.AccountID == "" {
			return nil, fmt.Errorf("decode %s: %w", env.Type, errMissingAccountID)
		}
		return msg, nil

	case KindTransactionUpdate:
		var msg TransactionUpdateMessage
		if err := json.Unmarshal(env.Payload, &msg.TransactionUpdate); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if msg.AccountID == "" {
			return nil, fmt.Errorf("decode %s: %w", env.Type, errMissingAccountID)
		}
		return msg, nil

	default:
		return UnknownMessage{Type: env.Type, Payload: env.Payload}, nil
	}
}

// encode builds an outbound frame.
func encode(kind Kind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(envelope{Type: kind, Payload: raw})
}
