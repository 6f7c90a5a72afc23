package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
)

type cursorRepoStub struct {
	at  time.Time
	err error
}

func (c *cursorRepoStub) LastRead(_ context.Context, _, _ string) (time.Time, error) {
	if c.err != nil {
		return time.Time{}, c.err
	}
	return c.at, nil
}

// unreadFixture seeds 150 messages one second apart: bucket 0 holds ids
// 0..99, bucket 1 holds ids 100..149.
func unreadFixture(t *testing.T, lastRead time.Time) UnreadService {
	t.Helper()
	base := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	repo := newChannelRepoStub()
	seedHistory(repo, "general", "community-1", models.BucketCapacity+50, base)

	return NewUnreadService(repo, &cursorRepoStub{at: lastRead}, nil, testLogger())
}

func messageTime(base time.Time, id int) time.Time {
	return base.Add(time.Duration(id) * time.Second)
}

func TestUnreadServiceBoundaryInsideBucket(t *testing.T) {
	base := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	svc := unreadFixture(t, messageTime(base, 120))

	unread, err := svc.UnreadPoint(context.Background(), "general", "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(121), unread, "the message at the cursor timestamp counts as read")
}

func TestUnreadServiceLastReadBeforeHistory(t *testing.T) {
	base := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	svc := unreadFixture(t, base.Add(-time.Hour))

	unread, err := svc.UnreadPoint(context.Background(), "general", "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), unread)
}

func TestUnreadServiceFullyRead(t *testing.T) {
	base := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	svc := unreadFixture(t, messageTime(base, 149))

	unread, err := svc.UnreadPoint(context.Background(), "general", "user-1")
	require.NoError(t, err)
	require.Equal(t, NoUnreadChat, unread)
}

func TestUnreadServiceBoundaryAtBucketEdge(t *testing.T) {
	// Everything in bucket 0 is read and bucket 1 is untouched: the first
	// unread message is the start of bucket 1.
	base := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	svc := unreadFixture(t, messageTime(base, models.BucketCapacity-1))

	unread, err := svc.UnreadPoint(context.Background(), "general", "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(models.BucketCapacity), unread)
}

func TestUnreadServiceNoCursorRowMeansAllUnread(t *testing.T) {
	base := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	repo := newChannelRepoStub()
	seedHistory(repo, "general", "community-1", models.BucketCapacity+50, base)

	svc := NewUnreadService(repo, &cursorRepoStub{err: gorm.ErrRecordNotFound}, nil, testLogger())

	unread, err := svc.UnreadPoint(context.Background(), "general", "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), unread)
}

func TestUnreadServiceEmptyChannel(t *testing.T) {
	repo := newChannelRepoStub()
	repo.channels["general"] = models.Channel{ID: "general", CommunityID: "community-1"}

	svc := NewUnreadService(repo, &cursorRepoStub{}, nil, testLogger())

	unread, err := svc.UnreadPoint(context.Background(), "general", "user-1")
	require.NoError(t, err)
	require.Equal(t, NoUnreadChat, unread)
}

func TestUnreadServiceUnknownChannel(t *testing.T) {
	svc := NewUnreadService(newChannelRepoStub(), &cursorRepoStub{}, nil, testLogger())

	_, err := svc.UnreadPoint(context.Background(), "missing", "user-1")
	require.ErrorIs(t, err, ErrChannelNotFound)
}
