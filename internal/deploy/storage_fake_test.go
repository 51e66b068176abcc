package deploy

import (
	"context"
	"errors"
	"io"
	"sync"
)

var _ Storage = (*FakeStorage)(nil)

type FakeObject struct {
	Body         string
	ContentType  string
	CacheControl string
}

// FakeStorage keeps objects in memory. Writes to FailKey fail.
type FakeStorage struct {
	FailKey string

	mu      sync.Mutex
	Objects map[string]*FakeObject
	Keys    []string // in write order
}

func (s *FakeStorage) PutObject(ctx context.Context, params *StoragePutObjectParams) error {
	if params.Key == s.FailKey {
		return errors.New("access denied")
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Objects == nil {
		s.Objects = make(map[string]*FakeObject)
	}
	s.Objects[params.Key] = &FakeObject{
		Body:         string(body),
		ContentType:  params.ContentType,
		CacheControl: params.CacheControl,
	}
	s.Keys = append(s.Keys, params.Key)
	return nil
}

var _ Invalidator = (*FakeInvalidator)(nil)

type FakeInvalidator struct {
	Err   error
	Calls []*InvalidatorInvalidateParams
}

func (i *FakeInvalidator) Invalidate(ctx context.Context, params *InvalidatorInvalidateParams) error {
	i.Calls = append(i.Calls, params)
	return i.Err
}
