package grpc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeConn struct {
	method string
	req    *structpb.Struct
	resp   *structpb.Struct
	err    error
}

func (f *fakeConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.method = method
	f.req = args.(*structpb.Struct)
	if f.err != nil {
		return f.err
	}
	proto.Merge(reply.(proto.Message), f.resp)
	return nil
}

func (f *fakeConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not supported")
}

func TestContentClient_ListAttachments(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]any{
		"attachments": []any{
			map[string]any{"id": "a1", "file_ref": "s3://c1/intro.pdf", "kind": "PDF"},
			map[string]any{"id": "a2", "file_ref": "s3://c1/l1.mp4", "kind": "VIDEO"},
			map[string]any{"file_ref": "orphan"},
		},
	})
	require.NoError(t, err)
	fc := &fakeConn{resp: resp}

	atts, err := NewContentClient(fc, 0, "order-engine").ListAttachments(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, ListAttachmentsMethod, fc.method)
	assert.Equal(t, "c1", fc.req.GetFields()["course_id"].GetStringValue())
	require.Len(t, atts, 2)
	assert.Equal(t, domain.Attachment{ID: "a1", CourseID: "c1", FileRef: "s3://c1/intro.pdf", Kind: domain.AttachmentPDF}, atts[0])
	assert.Equal(t, domain.AttachmentVideo, atts[1].Kind)
}

func TestContentClient_PropagatesErrors(t *testing.T) {
	fc := &fakeConn{err: status.Error(codes.Unavailable, "down")}
	_, err := NewContentClient(fc, 0, "").ListAttachments(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(errors.Unwrap(err)))
}

func TestTransportCredentials(t *testing.T) {
	creds, err := transportCredentials(false, "", "")
	require.NoError(t, err)
	assert.Equal(t, "insecure", creds.Info().SecurityProtocol)

	creds, err = transportCredentials(true, "", "content.internal")
	require.NoError(t, err)
	assert.Equal(t, "tls", creds.Info().SecurityProtocol)

	bad := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0o600))
	_, err = transportCredentials(true, bad, "")
	assert.ErrorIs(t, err, ErrBadCACert)
}
