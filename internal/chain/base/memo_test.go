package base

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jc4p/dollar-payers-frame/internal/chain/base/rpc"
)

func TestTimestampMemo_FetchesEachBlockOnce(t *testing.T) {
	client := &fakeRPCClient{blocks: map[int64]*rpc.Block{
		100: {Timestamp: "0x10"},
	}}
	memo := NewTimestampMemo(NewReader(client, testToken, testRecipient, 0, discardLogger()), discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ts, ok := memo.Get(ctx, 100)
		require.True(t, ok)
		assert.Equal(t, time.Unix(16, 0).UTC(), ts)
	}
	assert.Equal(t, 1, client.blockCalls[100])
	assert.Equal(t, 1, memo.Len())
}

func TestTimestampMemo_RemembersAbsence(t *testing.T) {
	client := &fakeRPCClient{blockErr: errors.New("upstream 503")}
	memo := NewTimestampMemo(NewReader(client, testToken, testRecipient, 0, discardLogger()), discardLogger())
	ctx := context.Background()

	_, ok := memo.Get(ctx, 5)
	assert.False(t, ok)
	_, ok = memo.Get(ctx, 5)
	assert.False(t, ok)
	assert.Equal(t, 1, client.blockCalls[5])

	_, ok = memo.Get(ctx, 6)
	assert.False(t, ok)
	assert.Equal(t, 2, memo.Len())
}
