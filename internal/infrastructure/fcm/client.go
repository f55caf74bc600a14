package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"perp-backend/internal/domain"
)

// Sender is the part of the messaging client the alerter uses.
type Sender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Alerter pushes fatal trading events to registered operator devices.
type Alerter struct {
	sender Sender
	tokens domain.TokenRepository
	log    *logrus.Entry
}

// NewAlerter initializes Firebase Cloud Messaging. Without credentials it
// returns a disabled alerter; Publish is then a no-op.
func NewAlerter(ctx context.Context, credPath, credJSON string, tokens domain.TokenRepository, log *logrus.Entry) (*Alerter, error) {
	a := &Alerter{tokens: tokens, log: log}

	var opt option.ClientOption
	switch {
	case credPath != "":
		opt = option.WithCredentialsFile(credPath)
	case credJSON != "":
		opt = option.WithCredentialsJSON([]byte(credJSON))
	default:
		log.Warn("no Firebase credentials found, FCM disabled")
		return a, nil
	}

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	log.Info("Firebase Cloud Messaging initialized")
	a.sender = client
	return a, nil
}

// NewAlerterWithSender is used when the messaging client is built elsewhere.
func NewAlerterWithSender(sender Sender, tokens domain.TokenRepository, log *logrus.Entry) *Alerter {
	return &Alerter{sender: sender, tokens: tokens, log: log}
}

// IsEnabled returns true if FCM client is initialized
func (a *Alerter) IsEnabled() bool {
	return a.sender != nil
}

// Publish sends fatal events to every registered device.
func (a *Alerter) Publish(ctx context.Context, e domain.Event) error {
	if a.sender == nil || e.Severity != domain.SeverityFatal {
		return nil
	}

	tokens, err := a.tokens.All(ctx)
	if err != nil {
		return fmt.Errorf("load device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	title := "Trading halted"
	if e.Symbol != "" {
		title = fmt.Sprintf("%s needs attention", e.Symbol)
	}
	body := e.Message
	if e.Error != "" {
		body = fmt.Sprintf("%s: %s", e.Message, e.Error)
	}

	data := map[string]string{
		"kind":     string(e.Kind),
		"severity": string(e.Severity),
		"symbol":   e.Symbol,
	}
	for k, v := range e.Fields {
		data[k] = v
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "trading_alerts",
				Priority:  messaging.PriorityHigh,
			},
		},
	}

	response, err := a.sender.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"symbol":   e.Symbol,
		"success":  response.SuccessCount,
		"failures": response.FailureCount,
	}).Info("fatal alert sent")
	return nil
}
