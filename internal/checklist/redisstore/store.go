// Package redisstore keeps checklist items in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/planmeet/planmeet/internal/checklist"
)

const tableKey = "checklists"

// Store provides item persistence in Redis. Each item is a JSON document;
// the set "checklists" lists every item and "checklists:team:<team>" the
// items of one team.
type Store struct {
	client redis.UniversalClient
}

var _ checklist.Store = (*Store)(nil)

// New creates a Store.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func itemKey(k checklist.Key) string { return fmt.Sprintf("checklist:%s:%s", k.Team, k.ID) }

func teamKey(team string) string { return fmt.Sprintf("checklists:team:%s", team) }

// member encodes a key for the table sets. IDs never contain "/".
func member(k checklist.Key) string { return k.ID + "/" + k.Team }

func parseMember(m string) (checklist.Key, bool) {
	id, team, ok := strings.Cut(m, "/")
	if !ok || id == "" || team == "" {
		return checklist.Key{}, false
	}
	return checklist.Key{ID: id, Team: team}, true
}

// Put stores a new or updated item.
func (s *Store) Put(ctx context.Context, item *checklist.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	k := item.Key()
	pipe := s.client.Pipeline()
	pipe.Set(ctx, itemKey(k), data, 0)
	pipe.SAdd(ctx, tableKey, member(k))
	pipe.SAdd(ctx, teamKey(k.Team), member(k))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "redis put %s", k)
	}
	return nil
}

// GetByKey retrieves an item.
func (s *Store) GetByKey(ctx context.Context, k checklist.Key) (*checklist.Item, error) {
	data, err := s.client.Get(ctx, itemKey(k)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, checklist.ErrNotFound
		}
		return nil, errors.Wrapf(err, "redis get %s", k)
	}
	return decode(data)
}

// UpdateFields applies f inside an optimistic transaction on the item key.
func (s *Store) UpdateFields(ctx context.Context, k checklist.Key, f checklist.Fields) (*checklist.Item, error) {
	key := itemKey(k)
	var updated *checklist.Item
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return checklist.ErrNotFound
			}
			return err
		}
		item, err := decode(data)
		if err != nil {
			return err
		}
		if !f.Holds(item) {
			return checklist.ErrConditionFailed
		}
		f.Apply(item)
		out, err := json.Marshal(item)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			updated = item
		}
		return err
	}

	// A lost WATCH race is retried until ctx ends, so concurrent writers to
	// one item all land and the last one wins.
	err := backoff.Retry(func() error {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil, err == redis.TxFailedErr:
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(txBackOff(), ctx))
	switch {
	case err == nil:
		return updated, nil
	case err == checklist.ErrNotFound, err == checklist.ErrConditionFailed:
		return nil, err
	default:
		return nil, errors.Wrapf(err, "redis update %s", k)
	}
}

// txBackOff paces retries of a contended transaction.
func txBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond
	bo.MaxInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 0
	return bo
}

// Delete removes an item and its index entries.
func (s *Store) Delete(ctx context.Context, k checklist.Key) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, itemKey(k))
	pipe.SRem(ctx, tableKey, member(k))
	pipe.SRem(ctx, teamKey(k.Team), member(k))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "redis delete %s", k)
	}
	return nil
}

// Scan loads the items of the filter's team (or all items) and filters them.
func (s *Store) Scan(ctx context.Context, f checklist.Filter) ([]*checklist.Item, error) {
	setKey := tableKey
	if f.Team != "" {
		setKey = teamKey(f.Team)
	}

	members, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis scan %s", setKey)
	}
	if len(members) == 0 {
		return []*checklist.Item{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(members))
	for _, m := range members {
		k, ok := parseMember(m)
		if !ok {
			continue
		}
		cmds = append(cmds, pipe.Get(ctx, itemKey(k)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, errors.Wrapf(err, "redis scan %s", setKey)
	}

	items := make([]*checklist.Item, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			// deleted between SMEMBERS and GET
			if err == redis.Nil {
				continue
			}
			return nil, errors.Wrapf(err, "redis scan %s", setKey)
		}
		item, err := decode(data)
		if err != nil {
			return nil, err
		}
		if f.Match(item) {
			items = append(items, item)
		}
	}
	return items, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// decode parses a stored item document.
func decode(data []byte) (*checklist.Item, error) {
	var item checklist.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, errors.Wrap(err, "decode checklist")
	}
	return &item, nil
}
