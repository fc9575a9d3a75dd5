package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES emails events to the admin list.
type SES struct {
	api  SESAPI
	from string
	to   []string
}

// NewSES wraps an existing SES client.
func NewSES(api SESAPI, from string, to []string) *SES {
	return &SES{api: api, from: from, to: to}
}

// NewSESFromRegion loads the default AWS credential chain for region.
func NewSESFromRegion(ctx context.Context, region, from string, to []string) (*SES, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "notify: load aws config")
	}
	return NewSES(sesv2.NewFromConfig(awsCfg), from, to), nil
}

// Notify implements Notifier.
func (s *SES) Notify(ctx context.Context, e Event) {
	if len(s.to) == 0 {
		return
	}
	_, err := s.api.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: s.to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(e.Subject()), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(e.Body()), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		zap.L().Error("notify: ses delivery failed",
			zap.String("kind", string(e.Kind)),
			zap.Strings("to", s.to),
			zap.Error(err),
		)
	}
}
