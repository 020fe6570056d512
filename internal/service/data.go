package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/repository"
)

const (
	MaxKeyLen   = 256
	MaxValueLen = 64 << 10
)

// DataService defines admin key/value operations scoped to a paired client.
type DataService interface {
	Save(ctx context.Context, userID uint64, key string, value []byte) (model.DataRecord, error)
	Load(ctx context.Context, userID uint64, key string) (*model.DataRecord, error)
	LoadAll(ctx context.Context, userID uint64) ([]model.DataRecord, error)
	Delete(ctx context.Context, userID uint64, key string) error
}

type DataServiceImpl struct {
	repo repository.DataRepository
}

// NewDataService constructs DataService over a repository.
func NewDataService(repo repository.DataRepository) *DataServiceImpl {
	return &DataServiceImpl{repo: repo}
}

func validKey(userID uint64, key string) error {
	if userID == 0 {
		return errors.New("validation: empty userID")
	}
	if key == "" || len(key) > MaxKeyLen {
		return fmt.Errorf("validation: key length %d", len(key))
	}
	return nil
}

// Save validates and stores a record; the version grows on every save.
func (s *DataServiceImpl) Save(ctx context.Context, userID uint64, key string, value []byte) (model.DataRecord, error) {
	if err := validKey(userID, key); err != nil {
		return model.DataRecord{}, err
	}
	if len(value) > MaxValueLen {
		return model.DataRecord{}, fmt.Errorf("validation: value too large (%d > %d)", len(value), MaxValueLen)
	}
	return s.repo.Put(ctx, userID, key, value)
}

func (s *DataServiceImpl) Load(ctx context.Context, userID uint64, key string) (*model.DataRecord, error) {
	if err := validKey(userID, key); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, userID, key)
}

func (s *DataServiceImpl) LoadAll(ctx context.Context, userID uint64) ([]model.DataRecord, error) {
	if userID == 0 {
		return nil, errors.New("validation: empty userID")
	}
	return s.repo.List(ctx, userID)
}

func (s *DataServiceImpl) Delete(ctx context.Context, userID uint64, key string) error {
	if err := validKey(userID, key); err != nil {
		return err
	}
	return s.repo.Delete(ctx, userID, key)
}
