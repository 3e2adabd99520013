package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = data
	if params.ContentType != nil {
		f.types[*params.Key] = *params.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}
	if ct, ok := f.types[*params.Key]; ok {
		out.ContentType = &ct
	}
	return out, nil
}

func TestPutAndStream(t *testing.T) {
	fake := newFakeS3()
	store := NewWithClient(fake, "oguogu")

	key := "0xchallenge/0xactivity"
	if err := store.Put(context.Background(), key, []byte("jpeg-bytes"), "image/jpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}

	body, contentType, err := store.Stream(context.Background(), key)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("payload %q", data)
	}
	if contentType != "image/jpeg" {
		t.Fatalf("content type %q", contentType)
	}
}

func TestStreamMissingKey(t *testing.T) {
	store := NewWithClient(newFakeS3(), "oguogu")
	if _, _, err := store.Stream(context.Background(), "absent"); err == nil {
		t.Fatal("stream of missing key succeeded")
	}
}
