package aws

import (
	"context"
	"errors"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: awssdk.String("msg-1")}, nil
}

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: awssdk.String("pub-1")}, nil
}

func TestSESClient_SendText(t *testing.T) {
	fake := &fakeSES{}
	client := &SESClient{client: fake, from: "billing@example.com"}

	id, err := client.SendText(context.Background(), "a@b.c", "Receipt", "Paid 10.00 BYN")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "billing@example.com", *fake.input.Source)
	assert.Equal(t, []string{"a@b.c"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "Receipt", *fake.input.Message.Subject.Data)
	assert.Equal(t, "Paid 10.00 BYN", *fake.input.Message.Body.Text.Data)
}

func TestSESClient_Error(t *testing.T) {
	client := &SESClient{client: &fakeSES{err: errors.New("throttled")}, from: "x@y.z"}
	_, err := client.SendText(context.Background(), "a@b.c", "s", "b")
	assert.ErrorContains(t, err, "throttled")
}

func TestSNSClient_Publish(t *testing.T) {
	fake := &fakeSNS{}
	client := &SNSClient{client: fake, topicARN: "arn:aws:sns:eu-central-1:1:billing"}

	id, err := client.Publish(context.Background(), "Charge declined", "user 42: card_declined")
	require.NoError(t, err)
	assert.Equal(t, "pub-1", id)
	assert.Equal(t, "arn:aws:sns:eu-central-1:1:billing", *fake.input.TopicArn)
	assert.Equal(t, "Charge declined", *fake.input.Subject)
}
