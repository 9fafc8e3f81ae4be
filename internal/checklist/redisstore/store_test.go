package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planmeet/planmeet/internal/checklist"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func testItem(id, team string, status checklist.Stage) *checklist.Item {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &checklist.Item{
		ID:        id,
		Team:      team,
		Title:     "title " + id,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPutGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	item := testItem("a", "dev_team_1", checklist.StageBacklog)
	require.NoError(t, s.Put(ctx, item))

	got, err := s.GetByKey(ctx, item.Key())
	require.NoError(t, err)
	assert.Equal(t, item.Title, got.Title)
	assert.Equal(t, item.Status, got.Status)
	assert.True(t, item.CreatedAt.Equal(got.CreatedAt))

	// same id under another team is a different item
	_, err = s.GetByKey(ctx, checklist.Key{ID: "a", Team: "dev_team_2"})
	assert.ErrorIs(t, err, checklist.ErrNotFound)
}

func TestUpdateFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	item := testItem("a", "dev_team_1", checklist.StageDone)
	require.NoError(t, s.Put(ctx, item))

	title := "new title"
	later := item.UpdatedAt.Add(time.Minute)
	got, err := s.UpdateFields(ctx, item.Key(), checklist.Fields{Title: &title, UpdatedAt: later})
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Title)
	assert.Equal(t, checklist.StageDone, got.Status)
	assert.True(t, later.Equal(got.UpdatedAt))

	stored, err := s.GetByKey(ctx, item.Key())
	require.NoError(t, err)
	assert.Equal(t, "new title", stored.Title)
}

func TestUpdateFieldsPreconditions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	item := testItem("a", "dev_team_1", checklist.StageTodo)
	require.NoError(t, s.Put(ctx, item))

	done, yes := checklist.StageDone, true
	at := item.UpdatedAt.Add(time.Second)
	_, err := s.UpdateFields(ctx, item.Key(), checklist.Fields{
		Submitted: &yes, SubmittedAt: &at, UpdatedAt: at, IfStatus: &done, IfUnsubmitted: true,
	})
	assert.ErrorIs(t, err, checklist.ErrConditionFailed)

	stored, err := s.GetByKey(ctx, item.Key())
	require.NoError(t, err)
	assert.False(t, stored.Submitted)
	assert.Nil(t, stored.SubmittedAt)
}

func TestConcurrentStatusUpdatesAllLand(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	item := testItem("a", "dev_team_1", checklist.StageBacklog)
	require.NoError(t, s.Put(ctx, item))

	stages := []checklist.Stage{checklist.StageTodo, checklist.StageInProgress, checklist.StageDone}
	const writers = 64
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := stages[i%len(stages)]
			_, err := s.UpdateFields(ctx, item.Key(), checklist.Fields{
				Status: &status, UpdatedAt: item.UpdatedAt.Add(time.Duration(i+1) * time.Second),
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Empty(t, errs)

	stored, err := s.GetByKey(ctx, item.Key())
	require.NoError(t, err)
	assert.Contains(t, stages, stored.Status)
	assert.Equal(t, item.Title, stored.Title)
}

func TestUpdateFieldsMissing(t *testing.T) {
	s, mr := newTestStore(t)
	status := checklist.StageDone
	_, err := s.UpdateFields(context.Background(), checklist.Key{ID: "x", Team: "t"},
		checklist.Fields{Status: &status, UpdatedAt: time.Now()})
	assert.ErrorIs(t, err, checklist.ErrNotFound)
	assert.False(t, mr.Exists(itemKey(checklist.Key{ID: "x", Team: "t"})))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	item := testItem("a", "dev_team_1", checklist.StageTodo)
	require.NoError(t, s.Put(ctx, item))
	require.NoError(t, s.Delete(ctx, item.Key()))
	require.NoError(t, s.Delete(ctx, item.Key()))

	_, err := s.GetByKey(ctx, item.Key())
	assert.ErrorIs(t, err, checklist.ErrNotFound)
	members, err := mr.Members(tableKey)
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestScan(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testItem("a", "dev_team_1", checklist.StageDone)))
	require.NoError(t, s.Put(ctx, testItem("b", "dev_team_1", checklist.StageTodo)))
	require.NoError(t, s.Put(ctx, testItem("c", "dev_team_2", checklist.StageDone)))

	all, err := s.Scan(ctx, checklist.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	team1, err := s.Scan(ctx, checklist.Filter{Team: "dev_team_1"})
	require.NoError(t, err)
	assert.Len(t, team1, 2)

	done, err := s.Scan(ctx, checklist.Filter{Status: checklist.StageDone})
	require.NoError(t, err)
	assert.Len(t, done, 2)

	no := false
	doneTeam1, err := s.Scan(ctx, checklist.Filter{Team: "dev_team_1", Status: checklist.StageDone, Submitted: &no})
	require.NoError(t, err)
	require.Len(t, doneTeam1, 1)
	assert.Equal(t, "a", doneTeam1[0].ID)

	empty, err := s.Scan(ctx, checklist.Filter{Team: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStoreUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	err := s.Put(context.Background(), testItem("a", "t", checklist.StageTodo))
	require.Error(t, err)
	assert.NotErrorIs(t, err, checklist.ErrNotFound)
	assert.Error(t, s.Ping(context.Background()))
}

func TestParseMember(t *testing.T) {
	k, ok := parseMember("abc/dev_team_1")
	require.True(t, ok)
	assert.Equal(t, checklist.Key{ID: "abc", Team: "dev_team_1"}, k)

	_, ok = parseMember("garbage")
	assert.False(t, ok)
}
