package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// channelRepoStub is an in-memory ChannelRepository for service tests.
type channelRepoStub struct {
	channels map[string]models.Channel
	buckets  map[string]models.ChatBucket
}

func newChannelRepoStub() *channelRepoStub {
	return &channelRepoStub{
		channels: make(map[string]models.Channel),
		buckets:  make(map[string]models.ChatBucket),
	}
}

func (r *channelRepoStub) CreateChannel(_ context.Context, channel *models.Channel) error {
	r.channels[channel.ID] = *channel
	return nil
}

func (r *channelRepoStub) GetChannel(_ context.Context, id string) (models.Channel, error) {
	channel, ok := r.channels[id]
	if !ok {
		return models.Channel{}, gorm.ErrRecordNotFound
	}
	return channel, nil
}

func (r *channelRepoStub) SaveChannel(_ context.Context, channel *models.Channel) error {
	r.channels[channel.ID] = *channel
	return nil
}

func (r *channelRepoStub) GetBucket(_ context.Context, id string) (models.ChatBucket, error) {
	bucket, ok := r.buckets[id]
	if !ok {
		return models.ChatBucket{}, gorm.ErrRecordNotFound
	}
	return bucket, nil
}

func (r *channelRepoStub) CreateBucket(_ context.Context, bucket *models.ChatBucket) error {
	r.buckets[bucket.ID] = *bucket
	return nil
}

func (r *channelRepoStub) SaveBucket(_ context.Context, bucket *models.ChatBucket) error {
	r.buckets[bucket.ID] = *bucket
	return nil
}

// seedHistory fills a channel with count messages, one second apart starting
// at base, laid out in capacity-sized buckets exactly as the writer would.
func seedHistory(repo *channelRepoStub, channelID, communityID string, count int, base time.Time) {
	channel := models.Channel{ID: channelID, CommunityID: communityID}

	for i := 0; i < count; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		message := models.ChatMessage{
			ID:        int64(i),
			Type:      models.ChatTypeText,
			Content:   fmt.Sprintf("message %d", i),
			SenderID:  "user-1",
			CreatedAt: ts,
			UpdatedAt: ts,
		}

		if i%models.BucketCapacity == 0 {
			bucket := models.ChatBucket{
				ID:            fmt.Sprintf("%s-bucket-%d", channelID, i/models.BucketCapacity),
				ChannelID:     channelID,
				Chat:          datatypes.JSONSlice[models.ChatMessage]{message},
				FirstChatTime: ts,
				LastChatTime:  ts,
			}
			repo.buckets[bucket.ID] = bucket
			channel.BucketIDs = append(channel.BucketIDs, bucket.ID)
		} else {
			bucketID := channel.BucketIDs[len(channel.BucketIDs)-1]
			bucket := repo.buckets[bucketID]
			bucket.Chat = append(bucket.Chat, message)
			bucket.LastChatTime = ts
			repo.buckets[bucketID] = bucket
		}
	}

	repo.channels[channelID] = channel
}

func newChatLogFixture(t *testing.T) (*channelRepoStub, *chatLogService) {
	t.Helper()
	repo := newChannelRepoStub()
	repo.channels["general"] = models.Channel{ID: "general", CommunityID: "community-1"}

	svc := NewChatLogService(repo, nil, testLogger()).(*chatLogService)
	return repo, svc
}

func TestChatLogServiceAppendAssignsSequentialIDs(t *testing.T) {
	_, svc := newChatLogFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		info, err := svc.Append(ctx, "general", "user-1", models.ChatTypeText, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		require.Equal(t, int64(i), info.ID)
		require.Equal(t, "general", info.ChannelID)
		require.Equal(t, "community-1", info.CommunityID)
	}
}

func TestChatLogServiceOpensBucketAtCapacity(t *testing.T) {
	repo, svc := newChatLogFixture(t)
	ctx := context.Background()

	base := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		ts := base.Add(time.Duration(tick) * time.Second)
		tick++
		return ts
	}

	total := 2*models.BucketCapacity + 50
	for i := 0; i < total; i++ {
		info, err := svc.Append(ctx, "general", "user-1", models.ChatTypeText, "m")
		require.NoError(t, err)
		require.Equal(t, int64(i), info.ID)
	}

	channel := repo.channels["general"]
	require.Len(t, channel.BucketIDs, 3)

	first := repo.buckets[channel.BucketIDs[0]]
	second := repo.buckets[channel.BucketIDs[1]]
	third := repo.buckets[channel.BucketIDs[2]]

	require.Len(t, first.Chat, models.BucketCapacity)
	require.Len(t, second.Chat, models.BucketCapacity)
	require.Len(t, third.Chat, 50)

	// A full bucket's LastChatTime is the timestamp of its final message and
	// never moves again.
	require.True(t, first.LastChatTime.Equal(base.Add(time.Duration(models.BucketCapacity-1)*time.Second)))
	require.Equal(t, int64(models.BucketCapacity), second.Chat[0].ID)
	require.True(t, second.FirstChatTime.Equal(base.Add(time.Duration(models.BucketCapacity)*time.Second)))
}

func TestChatLogServiceAppendUnknownChannel(t *testing.T) {
	_, svc := newChatLogFixture(t)

	_, err := svc.Append(context.Background(), "missing", "user-1", models.ChatTypeText, "m")
	require.ErrorIs(t, err, ErrChannelNotFound)
}

func TestChatLogServiceEditUpdatesContentAndTimestamp(t *testing.T) {
	repo, svc := newChatLogFixture(t)
	ctx := context.Background()

	created := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }
	info, err := svc.Append(ctx, "general", "user-1", models.ChatTypeText, "original")
	require.NoError(t, err)

	edited := created.Add(time.Minute)
	svc.now = func() time.Time { return edited }
	updated, err := svc.Edit(ctx, "general", info.ID, "user-1", "corrected")
	require.NoError(t, err)
	require.Equal(t, "corrected", updated.Content)
	require.True(t, updated.CreatedAt.Equal(created))
	require.True(t, updated.UpdatedAt.Equal(edited))

	channel := repo.channels["general"]
	stored := repo.buckets[channel.BucketIDs[0]].Chat[0]
	require.Equal(t, "corrected", stored.Content)
}

func TestChatLogServiceEditRejectsOtherSender(t *testing.T) {
	repo, svc := newChatLogFixture(t)
	ctx := context.Background()

	info, err := svc.Append(ctx, "general", "user-1", models.ChatTypeText, "original")
	require.NoError(t, err)

	_, err = svc.Edit(ctx, "general", info.ID, "user-2", "hijacked")
	require.ErrorIs(t, err, ErrForbidden)

	channel := repo.channels["general"]
	stored := repo.buckets[channel.BucketIDs[0]].Chat[0]
	require.Equal(t, "original", stored.Content)
}

func TestChatLogServiceEditRejectsDeletedMessage(t *testing.T) {
	_, svc := newChatLogFixture(t)
	ctx := context.Background()

	info, err := svc.Append(ctx, "general", "user-1", models.ChatTypeText, "original")
	require.NoError(t, err)

	_, err = svc.Remove(ctx, "general", info.ID, "user-1")
	require.NoError(t, err)

	_, err = svc.Edit(ctx, "general", info.ID, "user-1", "too late")
	require.ErrorIs(t, err, ErrMessageDeleted)
}

func TestChatLogServiceRemoveIsIdempotent(t *testing.T) {
	_, svc := newChatLogFixture(t)
	ctx := context.Background()

	info, err := svc.Append(ctx, "general", "user-1", models.ChatTypeText, "original")
	require.NoError(t, err)

	first, err := svc.Remove(ctx, "general", info.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, first.DeletedAt)

	again, err := svc.Remove(ctx, "general", info.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, again.DeletedAt)
	require.True(t, again.DeletedAt.Equal(*first.DeletedAt), "repeat delete keeps the original tombstone time")
}

func TestChatLogServiceRemoveRejectsOtherSender(t *testing.T) {
	_, svc := newChatLogFixture(t)
	ctx := context.Background()

	info, err := svc.Append(ctx, "general", "user-1", models.ChatTypeText, "original")
	require.NoError(t, err)

	_, err = svc.Remove(ctx, "general", info.ID, "user-2")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestChatLogServiceMutationUnknownChatID(t *testing.T) {
	_, svc := newChatLogFixture(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, "general", "user-1", models.ChatTypeText, "only one")
	require.NoError(t, err)

	_, err = svc.Edit(ctx, "general", 1, "user-1", "nope")
	require.ErrorIs(t, err, ErrMessageNotFound)

	_, err = svc.Edit(ctx, "general", int64(models.BucketCapacity)*3, "user-1", "nope")
	require.ErrorIs(t, err, ErrMessageNotFound)

	_, err = svc.Remove(ctx, "general", -1, "user-1")
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestChatLogServiceConcurrentAppendsStaySequential(t *testing.T) {
	repo, svc := newChatLogFixture(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 30

	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		go func() {
			for i := 0; i < perWriter; i++ {
				if _, err := svc.Append(ctx, "general", "user-1", models.ChatTypeText, "m"); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}()
	}
	for w := 0; w < writers; w++ {
		require.NoError(t, <-errs)
	}

	channel := repo.channels["general"]
	seen := make(map[int64]bool)
	total := 0
	for _, bucketID := range channel.BucketIDs {
		for _, message := range repo.buckets[bucketID].Chat {
			require.False(t, seen[message.ID], "duplicate id %d", message.ID)
			seen[message.ID] = true
			total++
		}
	}
	require.Equal(t, writers*perWriter, total)
	for i := 0; i < total; i++ {
		require.True(t, seen[int64(i)], "missing id %d", i)
	}
}
