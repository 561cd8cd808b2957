package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/patrol-reporter/internal/publisher"
)

func TestPublishSendsArchiveEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "patrol-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	topic, err := client.CreateTopic(ctx, "archives")
	require.NoError(t, err)

	pub := New(topic)
	t.Cleanup(pub.Stop)
	id, err := pub.Publish(ctx, publisher.ArchiveCreated{Day: "2026-10-16", FileName: "16-10-2026-report.pdf", ReportCount: 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, publisher.EventArchiveCreated, msgs[0].Attributes["event"])
	require.Equal(t, "2026-10-16", msgs[0].Attributes["day"])

	var got publisher.ArchiveCreated
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, 3, got.ReportCount)
	require.Equal(t, publisher.EventArchiveCreated, got.Event)
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), publisher.ArchiveCreated{})
	require.Error(t, err)
}
