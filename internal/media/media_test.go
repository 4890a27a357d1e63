package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSiteResolver(t *testing.T) {
	r := SiteResolver{SiteURL: "https://invest.example", MediaURL: "/media"}
	ctx := context.Background()

	assert.Equal(t, "", r.URL(ctx, ""))
	assert.Equal(t, "https://invest.example/media/files/users_photo/a.jpg", r.URL(ctx, "files/users_photo/a.jpg"))
	assert.Equal(t, "https://invest.example/media/b.png", r.URL(ctx, "/b.png"))
	assert.Equal(t, "https://cdn.example/c.png", r.URL(ctx, "https://cdn.example/c.png"))
}

type fakePresigner struct {
	err     error
	gotKey  string
	expires time.Duration
}

func (f *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.gotKey = aws.ToString(in.Key)
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3/" + f.gotKey + "?sig"}, nil
}

func TestS3Resolver(t *testing.T) {
	p := &fakePresigner{}
	r := newS3Resolver("photos", 5*time.Minute, p, SiteResolver{MediaURL: "/media/"}, zap.NewNop())

	assert.Equal(t, "https://bucket.s3/u/1.jpg?sig", r.URL(context.Background(), "u/1.jpg"))
	assert.Equal(t, "u/1.jpg", p.gotKey)
	assert.Equal(t, 5*time.Minute, p.expires)
	assert.Equal(t, "", r.URL(context.Background(), ""))
}

func TestS3ResolverFallsBack(t *testing.T) {
	p := &fakePresigner{err: errors.New("no credentials")}
	r := newS3Resolver("photos", 0, p, SiteResolver{MediaURL: "/media/"}, zap.NewNop())

	assert.Equal(t, "/media/u/1.jpg", r.URL(context.Background(), "u/1.jpg"))
}
