package adapter_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/lakeagent/pkg/adapter"
	"github.com/m-mizutani/lakeagent/pkg/model"
)

func TestStorage(t *testing.T) {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewStorage(ctx, bucket, adapter.WithStoragePrefix("lakeagent-test"))
	gt.NoError(t, err)

	key := "traces/" + model.NewInteractionID().String() + ".json"
	w, err := client.Put(ctx, key)
	gt.NoError(t, err)
	_, err = w.Write([]byte(`[]`))
	gt.NoError(t, err)
	gt.NoError(t, w.Close())

	r, err := client.Get(ctx, key)
	gt.NoError(t, err)
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.NoError(t, r.Close())
	gt.Equal(t, string(data), "[]")

	_, err = client.Get(ctx, "traces/missing.json")
	gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))
}

func TestNewStorageRequiresBucket(t *testing.T) {
	_, err := adapter.NewStorage(context.Background(), "")
	gt.Error(t, err)
}
