package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrMalformed marks a message body that cannot be processed. Such
	// messages are dead-lettered, never retried.
	ErrMalformed = errors.New("malformed queue message")

	// ErrEmpty is returned by Dequeue when nothing arrived before the poll timeout.
	ErrEmpty = errors.New("queue empty")
)

// Message asks the processor to analyze one stored item.
type Message struct {
	ItemID      int64      `json:"item_id" validate:"required,gt=0"`
	URL         string     `json:"url,omitempty" validate:"omitempty,url"`
	Source      string     `json:"source,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

var validate = validator.New()

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	if err := validate.Struct(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return json.Marshal(m)
}

// Decode parses and validates a message body.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}
