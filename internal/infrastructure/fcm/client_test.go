package fcm

import (
	"context"
	"io"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-backend/internal/domain"
	"perp-backend/internal/repository"
)

type fakeSender struct {
	sent []*messaging.MulticastMessage
}

func (f *fakeSender) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.sent = append(f.sent, m)
	return &messaging.BatchResponse{SuccessCount: len(m.Tokens)}, nil
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestPublishOnlyFatal(t *testing.T) {
	ctx := context.Background()
	tokens := repository.NewInMemoryTokenRepository()
	require.NoError(t, tokens.Register(ctx, "device-1", "android"))

	sender := &fakeSender{}
	a := NewAlerterWithSender(sender, tokens, quietLog())

	require.NoError(t, a.Publish(ctx, domain.Event{Severity: domain.SeverityError, Message: "ignored"}))
	assert.Empty(t, sender.sent)

	require.NoError(t, a.Publish(ctx, domain.Event{
		Kind:     domain.EventError,
		Severity: domain.SeverityFatal,
		Symbol:   "BTCUSDT",
		Message:  "position close exceeded iteration limit",
	}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"device-1"}, sender.sent[0].Tokens)
	assert.Equal(t, "BTCUSDT", sender.sent[0].Data["symbol"])
}

func TestDisabledAlerterIsNoop(t *testing.T) {
	a, err := NewAlerter(context.Background(), "", "", repository.NewInMemoryTokenRepository(), quietLog())
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())
	assert.NoError(t, a.Publish(context.Background(), domain.Event{Severity: domain.SeverityFatal}))
}
