package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"pollkeeper/internal/types"
)

// SESAPI is the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientConfig holds the configuration for creating an SESClient.
type SESClientConfig struct {
	// ConfigSet is the configuration set for every template without its own
	// entry in TemplateConfigSets. Empty means none.
	ConfigSet string
	// TemplateConfigSets routes a template's traffic to a separate
	// configuration set, e.g. so reminder bounces and complaints can be
	// tracked apart from closure notices.
	TemplateConfigSets map[types.EmailTemplate]string
	Logger             *slog.Logger
}

// SESClient implements EmailProvider using AWS SES v2. The SDK retries
// throttled calls itself, so SESClient does not use the HTTP transport.
type SESClient struct {
	api        SESAPI
	configSets map[types.EmailTemplate]string
	defaultSet string
	logger     *slog.Logger
}

// NewSESClient creates a new SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESClientWithAPI creates an SESClient around an existing SESAPI.
func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{
		api:        api,
		configSets: cfg.TemplateConfigSets,
		defaultSet: cfg.ConfigSet,
		logger:     logger,
	}
}

// configSetFor returns the configuration set for template, or "".
func (s *SESClient) configSetFor(template types.EmailTemplate) string {
	if set, ok := s.configSets[template]; ok {
		return set
	}
	return s.defaultSet
}

// Send transmits pre-rendered content with SES v2 SendEmail, tagged with the
// template and the job's message and request ids.
//
// Error mapping:
//   - MessageRejected -> ErrCodeEmailBlocked
//   - TooManyRequestsException -> ErrCodeUpstreamRateLimited
//   - SendingPausedException -> ErrCodeUpstreamUnavailable
//   - Other -> ErrCodeUpstreamEmailProvider
func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body := &sestypes.Body{}
	if input.BodyHTML != "" {
		body.Html = utf8Content(input.BodyHTML)
	}
	if input.BodyText != "" {
		body.Text = utf8Content(input.BodyText)
	}

	from := input.From.Address
	if input.From.Name != "" {
		from = (&mail.Address{Name: input.From.Name, Address: input.From.Address}).String()
	}

	params := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{Subject: utf8Content(input.Subject), Body: body},
		},
	}
	if set := s.configSetFor(input.Template); set != "" {
		params.ConfigurationSetName = aws.String(set)
	}
	for _, tag := range deliveryTags(input) {
		params.EmailTags = append(params.EmailTags, sestypes.MessageTag{
			Name:  aws.String(tag.name),
			Value: aws.String(tag.value),
		})
	}

	out, err := s.api.SendEmail(ctx, params)
	if err != nil {
		s.logger.WarnContext(ctx, "SES send failed",
			"message_id", input.MessageID,
			"template", string(input.Template),
			"error", err,
		)
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func utf8Content(data string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

// mapSESError classifies an SES failure. A rejected message is terminal for
// that recipient; throttling and paused sending are left to the channel's
// retry and the SQS redelivery.
func mapSESError(err error) error {
	var (
		rejected  *sestypes.MessageRejected
		throttled *sestypes.TooManyRequestsException
		paused    *sestypes.SendingPausedException
	)
	switch {
	case errors.As(err, &rejected):
		return types.NewAppError(types.ErrCodeEmailBlocked, "SES rejected message", err)
	case errors.As(err, &throttled):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "SES rate limit exceeded", err)
	case errors.As(err, &paused):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SES account sending paused", err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SES send failed: %v", err), err)
	}
}

var _ EmailProvider = (*SESClient)(nil)
