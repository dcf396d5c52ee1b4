package s3

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/interfaces"
)

type fakeAPI struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
	headErr error
}

func newFake() *fakeAPI {
	return &fakeAPI{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestClient_PutGet(t *testing.T) {
	ctx := context.Background()
	api := newFake()
	c := NewWithAPI(Config{Bucket: "gis-exports", Prefix: "/parcels/"}, api)

	opts := interfaces.PutOptions{ContentType: "application/geo+json", IfNotExists: true}
	if err := c.Put(ctx, "Parcels_KC_100824_1405.geojson", strings.NewReader("{}"), opts); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := api.objects["parcels/Parcels_KC_100824_1405.geojson"]; !ok {
		t.Fatalf("object stored under %v", api.objects)
	}
	if got := api.types["parcels/Parcels_KC_100824_1405.geojson"]; got != "application/geo+json" {
		t.Errorf("ContentType = %q", got)
	}
	if got, want := c.Location("Parcels_KC_100824_1405.geojson"), "s3://gis-exports/parcels/Parcels_KC_100824_1405.geojson"; got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}

	ok, err := c.Exists(ctx, "Parcels_KC_100824_1405.geojson")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	ok, err = c.Exists(ctx, "other.geojson")
	if err != nil || ok {
		t.Errorf("Exists(other) = %v, %v", ok, err)
	}

	rc, err := c.Get(ctx, "Parcels_KC_100824_1405.geojson")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "{}" {
		t.Errorf("Get = %q", data)
	}
}

func TestClient_PutCollision(t *testing.T) {
	ctx := context.Background()
	api := newFake()
	api.objects["out.geojson"] = []byte("original")
	c := NewWithAPI(Config{Bucket: "b"}, api)

	err := c.Put(ctx, "out.geojson", strings.NewReader("new"), interfaces.PutOptions{IfNotExists: true})
	if !perrors.IsCode(err, perrors.CodeNameCollision) {
		t.Fatalf("err = %v, want NameCollision", err)
	}
	if string(api.objects["out.geojson"]) != "original" {
		t.Error("existing object was overwritten")
	}
}

func TestClient_AccessDenied(t *testing.T) {
	ctx := context.Background()
	denied := &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}

	api := newFake()
	api.putErr = denied
	c := NewWithAPI(Config{Bucket: "b"}, api)
	err := c.Put(ctx, "out.geojson", strings.NewReader("x"), interfaces.PutOptions{IfNotExists: true})
	if !perrors.IsCode(err, perrors.CodeWriteDenied) {
		t.Errorf("put err = %v, want WriteDenied", err)
	}

	api = newFake()
	api.headErr = denied
	c = NewWithAPI(Config{Bucket: "b"}, api)
	err = c.Put(ctx, "out.geojson", strings.NewReader("x"), interfaces.PutOptions{IfNotExists: true})
	if !perrors.IsCode(err, perrors.CodeWriteDenied) {
		t.Errorf("head err = %v, want WriteDenied", err)
	}
}
