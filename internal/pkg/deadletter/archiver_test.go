package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestObjectKey(t *testing.T) {
	cfg := &Config{Prefix: "/deadletter/"}
	at := time.Date(2026, 2, 3, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "deadletter/2026/02/03/razorpay/evt_1.json", cfg.ObjectKey("razorpay", "evt_1", at))
	assert.Equal(t, "deadletter/2026/02/03/razorpay/a_b.json", (&Config{}).ObjectKey("razorpay", "a/b", at))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Enabled: true}).Validate())
	assert.NoError(t, (&Config{Enabled: true, AccessKeyID: "a", SecretAccessKey: "b", BucketName: "c"}).Validate())
}

func TestS3ArchiverArchive(t *testing.T) {
	putter := &fakePutter{}
	a := newS3Archiver(putter, &Config{BucketName: "mealpay-dlq", Prefix: "deadletter"})
	failedAt := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	err := a.Archive(context.Background(), Record{
		Provider: "razorpay", EventID: "evt_9", EventType: "payment.captured",
		Payload: `{"event":"payment.captured"}`, Error: "payment order not found", FailedAt: failedAt,
	})
	require.NoError(t, err)
	require.Len(t, putter.inputs, 1)
	assert.Equal(t, "mealpay-dlq", aws.ToString(putter.inputs[0].Bucket))
	assert.Equal(t, "deadletter/2026/02/03/razorpay/evt_9.json", aws.ToString(putter.inputs[0].Key))

	var rec Record
	require.NoError(t, json.Unmarshal(putter.bodies[0], &rec))
	assert.Equal(t, "payment order not found", rec.Error)

	putter.err = errors.New("access denied")
	assert.Error(t, a.Archive(context.Background(), Record{Provider: "razorpay", EventID: "evt_10"}))
}
