package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txnorm/service/db"
	"github.com/brojonat/txnorm/service/normalizer"
)

const account = "7YttLkHDoNj9wyDur5pM1ejNaAvT9X4eqaYcHQqtj2G5"

func newReceive(id string) *normalizer.NormalizedTransaction {
	bt := int64(1_700_000_000)
	return &normalizer.NormalizedTransaction{
		ID:        id,
		Account:   account,
		Timestamp: &bt,
		Scope:     normalizer.Mainnet.ID,
		Status:    normalizer.StatusConfirmed,
		Type:      normalizer.TypeReceive,
		From:      []normalizer.Movement{},
		To: []normalizer.Movement{{
			Address:  account,
			Asset:    normalizer.Mainnet.NativeAsset,
			Amount:   decimal.RequireFromString("0.25"),
			Unit:     "SOL",
			Fungible: true,
		}},
		Fees:   []normalizer.Fee{},
		Events: []normalizer.Event{{Status: normalizer.StatusConfirmed, Timestamp: &bt}},
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "txns."+account, Subject(account))
}

func TestNewTransactionEvent(t *testing.T) {
	event := NewTransactionEvent("mainnet", 42, newReceive("sig"))

	assert.Equal(t, "sig", event.ID)
	assert.Equal(t, account, event.Account)
	assert.Equal(t, "mainnet", event.Network)
	assert.Equal(t, normalizer.Mainnet.ID, event.Chain)
	assert.Equal(t, uint64(42), event.Slot)
	assert.Equal(t, normalizer.TypeReceive, event.Type)
	require.NotNil(t, event.BlockTime)
	assert.Equal(t, int64(1_700_000_000), event.BlockTime.Unix())
	assert.WithinDuration(t, time.Now(), event.PublishedAt, 5*time.Second)

	t.Run("without block time", func(t *testing.T) {
		txn := newReceive("sig")
		txn.Timestamp = nil
		assert.Nil(t, NewTransactionEvent("mainnet", 1, txn).BlockTime)
	})

	t.Run("from stored transaction", func(t *testing.T) {
		stored := &db.Transaction{NormalizedTransaction: *newReceive("stored"), Network: "devnet", Slot: 9}
		event := FromDBTransaction(stored)
		assert.Equal(t, "stored", event.ID)
		assert.Equal(t, "devnet", event.Network)
		assert.Equal(t, uint64(9), event.Slot)
	})
}

func TestDecodeEvent(t *testing.T) {
	data, err := json.Marshal(NewTransactionEvent("mainnet", 1, newReceive("sig")))
	require.NoError(t, err)

	event, err := DecodeEvent(data)
	require.NoError(t, err)
	require.Len(t, event.To, 1)
	assert.True(t, event.To[0].Amount.Equal(decimal.RequireFromString("0.25")))

	_, err = DecodeEvent([]byte("not json"))
	assert.Error(t, err)
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	pub := NewMockPublisher()

	require.NoError(t, pub.PublishTransaction(ctx, NewTransactionEvent("mainnet", 1, newReceive("a"))))
	other := newReceive("b")
	other.Account = "someone-else"
	require.NoError(t, pub.PublishTransactionBatch(ctx, []*TransactionEvent{
		NewTransactionEvent("mainnet", 2, other),
		NewTransactionEvent("mainnet", 3, newReceive("c")),
	}))

	assert.Equal(t, 3, pub.GetPublishedEventCount())
	assert.Len(t, pub.GetPublishedEventsForAccount(account), 2)

	pub.SetPublishError(assert.AnError)
	assert.ErrorIs(t, pub.PublishTransaction(ctx, NewTransactionEvent("mainnet", 4, newReceive("d"))), assert.AnError)
	assert.Equal(t, 3, pub.GetPublishedEventCount())

	pub.Reset()
	assert.Equal(t, 0, pub.GetPublishedEventCount())
	require.NoError(t, pub.Close())
	assert.True(t, pub.IsClosed())
}
