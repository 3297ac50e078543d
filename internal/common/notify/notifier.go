// Package notify is the fire-and-forget notification collaborator. Delivery
// failures are logged and never block the triggering operation.
package notify

import (
	"context"
	"fmt"
	"time"

	"substitution-marketplace/internal/common/config"
	"substitution-marketplace/internal/common/errors"
	"substitution-marketplace/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Event names emitted by the marketplace core.
const (
	EventPostingCreated      = "posting_created"
	EventCandidateSelected   = "candidate_selected"
	EventConfirmationOutcome = "confirmation_outcome"
)

// Notifier delivers a message to a recipient. Implementations must not block
// the caller beyond their own transport timeout.
type Notifier interface {
	Notify(ctx context.Context, recipientID, message string, context map[string]interface{})
}

// SESService and SNSService mirror the AWS client surface used here so tests
// can substitute mocks.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// ContactLookup resolves a recipient id to delivery addresses. Backed by the
// professional/clinic records in the persistence layer.
type ContactLookup func(ctx context.Context, recipientID string) (email, phone string, err error)

// AWSNotifier sends email through SES and SMS through SNS.
type AWSNotifier struct {
	cfg       config.NotificationConfig
	sesClient SESService
	snsClient SNSService
	contacts  ContactLookup
	logger    logger.Logger
}

// NewAWSNotifier builds the production notifier.
func NewAWSNotifier(ctx context.Context, cfg config.NotificationConfig, contacts ContactLookup, log logger.Logger) (*AWSNotifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &AWSNotifier{
		cfg:       cfg,
		sesClient: ses.NewFromConfig(awsCfg),
		snsClient: sns.NewFromConfig(awsCfg),
		contacts:  contacts,
		logger:    log.WithFields(map[string]interface{}{"component": "notifier"}),
	}, nil
}

// NewAWSNotifierWithClients wires pre-built clients, for tests.
func NewAWSNotifierWithClients(cfg config.NotificationConfig, sesClient SESService, snsClient SNSService, contacts ContactLookup, log logger.Logger) *AWSNotifier {
	return &AWSNotifier{
		cfg:       cfg,
		sesClient: sesClient,
		snsClient: snsClient,
		contacts:  contacts,
		logger:    log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

// Notify delivers the message on every enabled channel. Errors are logged,
// never returned; the triggering marketplace operation has already committed.
func (n *AWSNotifier) Notify(ctx context.Context, recipientID, message string, eventCtx map[string]interface{}) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	email, phone, err := n.contacts(ctx, recipientID)
	if err != nil {
		n.logger.Warn("recipient contact lookup failed", map[string]interface{}{
			"recipientId": recipientID,
			"error":       err.Error(),
		})
		return
	}

	subject := subjectFor(eventCtx)

	if n.cfg.Email.Enabled && email != "" {
		if err := n.sendEmail(ctx, email, subject, message); err != nil {
			n.logger.Error("email notification failed", map[string]interface{}{
				"recipientId": recipientID,
				"error":       errors.NewNotificationFailedError("email", err).Error(),
			})
		}
	}

	if n.cfg.SMS.Enabled && phone != "" {
		if err := n.sendSMS(ctx, phone, message); err != nil {
			n.logger.Error("sms notification failed", map[string]interface{}{
				"recipientId": recipientID,
				"error":       errors.NewNotificationFailedError("sms", err).Error(),
			})
		}
	}

	n.logger.Info("notification dispatched", map[string]interface{}{
		"recipientId": recipientID,
		"event":       eventCtx["event"],
	})
}

func (n *AWSNotifier) sendEmail(ctx context.Context, to, subject, body string) error {
	_, err := n.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(n.cfg.Email.FromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
	})
	return err
}

func (n *AWSNotifier) sendSMS(ctx context.Context, phone, body string) error {
	_, err := n.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(body),
	})
	return err
}

func subjectFor(eventCtx map[string]interface{}) string {
	event, _ := eventCtx["event"].(string)
	switch event {
	case EventPostingCreated:
		return "Urgent substitution opportunity"
	case EventCandidateSelected:
		return "A candidate was selected for your posting"
	case EventConfirmationOutcome:
		return "Substitution confirmation update"
	default:
		return "Substitution marketplace update"
	}
}

// NoOp discards notifications. Used in tests and local tooling.
type NoOp struct{}

func (NoOp) Notify(_ context.Context, _, _ string, _ map[string]interface{}) {}
