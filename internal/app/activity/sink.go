package activity

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/staffhub/taskcore/internal/contracts"
)

var ErrInvalidEntryPayload = errors.New("invalid activity payload")
var ErrUnsupportedActivityType = errors.New("unsupported activity type")

type Repository interface {
	Insert(ctx context.Context, msg contracts.ActivityMessage) error
}

// Sink consumes published activity messages and appends them to the store.
type Sink struct {
	Repository Repository
}

func NewSink(repository Repository) *Sink {
	return &Sink{Repository: repository}
}

func (s *Sink) Handle(ctx context.Context, payload []byte) error {
	var msg contracts.ActivityMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ErrInvalidEntryPayload
	}
	if strings.TrimSpace(msg.EntryID) == "" || strings.TrimSpace(msg.TaskID) == "" {
		return ErrInvalidEntryPayload
	}
	if !contracts.IsValidActivityType(msg.Type) {
		return ErrUnsupportedActivityType
	}
	return s.Repository.Insert(ctx, msg)
}
