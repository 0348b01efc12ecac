package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/V4T54L/fleetgate/internal/domain"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends each notification as a plain-text e-mail through AWS SES.
type SES struct {
	client sesAPI
	from   string
	to     []string
	logger *slog.Logger
}

// NewSES loads the default AWS credential chain for region.
func NewSES(ctx context.Context, region, from string, to []string, logger *slog.Logger) (*SES, error) {
	if len(to) == 0 {
		return nil, errors.New("no recipients specified")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	logger.Info("SES notifier initialized", "region", region)
	return newSES(sesv2.NewFromConfig(cfg), from, to, logger), nil
}

func newSES(client sesAPI, from string, to []string, logger *slog.Logger) *SES {
	return &SES{client: client, from: from, to: to, logger: logger.With("component", "ses_notifier")}
}

func (n *SES) Notify(ctx context.Context, notification domain.Notification) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination: &types.Destination{
			ToAddresses: n.to,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(notification.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(notification.Body)},
				},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("SES send failed: %w", err)
	}
	n.logger.Info("notification sent via SES",
		"message_id", aws.ToString(result.MessageId),
		"match_id", notification.MatchID,
		"rule", notification.RuleName,
	)
	return nil
}
