package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/snippet-runner/internal/engine"
)

func key(id string) engine.RecordKey {
	return engine.RecordKey{DataSource: "TEST", RecordID: id}
}

func TestAddRecord_ResolvesByMatchKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New()

	info1, err := e.AddRecord(ctx, key("1"), `{"NAME_FULL":"Robert Smith"}`, true)
	require.NoError(t, err)
	ids1, err := engine.ParseInfo(info1)
	require.NoError(t, err)
	require.Len(t, ids1, 1)

	info2, err := e.AddRecord(ctx, key("2"), `{"NAME_FULL":"ROBERT  SMITH"}`, true)
	require.NoError(t, err)
	ids2, err := engine.ParseInfo(info2)
	require.NoError(t, err)
	assert.Equal(t, ids1, ids2, "matching records should resolve to the same entity")

	_, err = e.AddRecord(ctx, key("3"), `{"NAME_FULL":"Jane Doe"}`, false)
	require.NoError(t, err)

	assert.Equal(t, 3, e.RecordCount())
	assert.Equal(t, 2, e.EntityCount())

	count, err := e.CountRedoRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "joining an entity should queue one redo record")
}

func TestAddRecord_BadInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New(WithDataSources("TEST"))

	_, err := e.AddRecord(ctx, key("1"), `not json`, false)
	assert.True(t, engine.IsBadInput(err))

	_, err = e.AddRecord(ctx, engine.RecordKey{DataSource: "TEST"}, `{}`, false)
	assert.True(t, engine.IsBadInput(err))

	_, err = e.AddRecord(ctx, engine.RecordKey{DataSource: "OTHER", RecordID: "1"}, `{}`, false)
	assert.ErrorIs(t, err, engine.ErrUnknownDataSource)
}

func TestRedoLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New()

	_, err := e.AddRecord(ctx, key("1"), `{"EMAIL_ADDRESS":"a@example.com"}`, false)
	require.NoError(t, err)
	_, err = e.AddRecord(ctx, key("2"), `{"EMAIL_ADDRESS":"A@example.com"}`, false)
	require.NoError(t, err)

	redo, err := e.GetRedoRecord(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, redo)

	info, err := e.ProcessRedoRecord(ctx, redo, true)
	require.NoError(t, err)
	ids, err := engine.ParseInfo(info)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	redo, err = e.GetRedoRecord(ctx)
	require.NoError(t, err)
	assert.Empty(t, redo, "queue should be empty")

	_, err = e.ProcessRedoRecord(ctx, `{"bad":`, false)
	assert.True(t, engine.IsBadInput(err))
}

func TestDeleteAndGetEntity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New()

	info, err := e.AddRecord(ctx, key("1"), `{"PHONE_NUMBER":"702-555-1212"}`, true)
	require.NoError(t, err)
	ids, err := engine.ParseInfo(info)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	doc, err := e.GetEntity(ctx, ids[0])
	require.NoError(t, err)
	var parsed struct {
		EntityID int64              `json:"ENTITY_ID"`
		Records  []engine.RecordKey `json:"RECORDS"`
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))
	assert.Equal(t, ids[0], parsed.EntityID)
	assert.Equal(t, []engine.RecordKey{key("1")}, parsed.Records)

	_, err = e.DeleteRecord(ctx, key("1"), false)
	require.NoError(t, err)

	_, err = e.GetEntity(ctx, ids[0])
	assert.ErrorIs(t, err, engine.ErrNotFound)

	// deleting again is a no-op
	_, err = e.DeleteRecord(ctx, key("1"), true)
	assert.NoError(t, err)
}

func TestSearchByAttributes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New()

	_, err := e.AddRecord(ctx, key("1"), `{"NAME_FULL":"Robert Smith"}`, false)
	require.NoError(t, err)

	result, err := e.SearchByAttributes(ctx, `{"NAME_FULL":"robert smith"}`)
	require.NoError(t, err)
	assert.Contains(t, result, `"RECORD_ID":"1"`)

	result, err = e.SearchByAttributes(ctx, `{"NAME_FULL":"nobody"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"RESOLVED_ENTITIES":[]}`, result)
}

func TestFaultsAndClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	injected := engine.NewError(OpAddRecord, engine.ErrRetryable, errors.New("busy"))
	e := New(WithFaults(func(op string, k engine.RecordKey) error {
		if op == OpAddRecord && k.RecordID == "2" {
			return injected
		}
		return nil
	}))

	_, err := e.AddRecord(ctx, key("1"), `{}`, false)
	require.NoError(t, err)
	_, err = e.AddRecord(ctx, key("2"), `{}`, false)
	assert.True(t, engine.IsRetryable(err))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.AddRecord(ctx, key("3"), `{}`, false)
	assert.ErrorIs(t, err, engine.ErrEngineClosed)
	assert.ErrorIs(t, err, engine.ErrUnrecoverable)
}
