package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

func TestNATSPublisher_DeliversLifecycleEvents(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	subject := "test.lifecycle." + uuid.NewString()
	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe(subject+".*", msgs)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	tenant := &model.Tenant{ID: uuid.New(), Slug: "acme", Status: model.StatusSuspended}
	NewNotifier(pub, subject, nil).TenantChanged(context.Background(), tenant)

	select {
	case msg := <-msgs:
		assert.Equal(t, subject+".suspended", msg.Subject)
		var ev LifecycleEvent
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, tenant.ID, ev.TenantID)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle event not delivered")
	}
}

func TestNATSPublisher_ClosedConnection(t *testing.T) {
	p := &NATSPublisher{}
	assert.ErrorIs(t, p.Publish(context.Background(), "tenants.lifecycle.active", []byte("{}")), ErrNotConnected)
}
