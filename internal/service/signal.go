package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/famkit/famsync"
)

// ChannelPrefix namespaces family change events on redis.
const ChannelPrefix = "family."

// Envelope is the wire form of one change-stream element. A nil State
// announces removal of the family.
type Envelope struct {
	ID    string               `json:"id"`
	Key   string               `json:"key"`
	State *famsync.FamilyState `json:"state,omitempty"`
}

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

// Publish announces a new backend view of the family identified by key.
func (s *SignalService) Publish(ctx context.Context, key string, state *famsync.FamilyState) error {

	env := Envelope{
		ID:    uuid.New().String(),
		Key:   key,
		State: state,
	}

	jsonstr, err := json.Marshal(env)
	if err != nil {
		return famsync.StorageError{Kind: famsync.ErrorKindEncoding, Cause: err}
	}

	err = s.rdb.Publish(ctx, ChannelPrefix+key, jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}
