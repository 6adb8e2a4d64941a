package grpc

import (
	"context"
	"fmt"
	"time"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/usecase"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// ListAttachmentsMethod takes {"course_id"} and answers
// {"attachments":[{"id","file_ref","kind"}]} as google.protobuf.Struct.
const ListAttachmentsMethod = "/content.v1.ContentService/ListAttachments"

// ContentClient implements usecase.ContentCatalog over gRPC.
type ContentClient struct {
	cc      grpc.ClientConnInterface
	timeout time.Duration
	ua      string
}

func NewContentClient(cc grpc.ClientConnInterface, timeout time.Duration, userAgent string) *ContentClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ContentClient{cc: cc, timeout: timeout, ua: userAgent}
}

func (c *ContentClient) ListAttachments(ctx context.Context, courseID string) ([]domain.Attachment, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.ua != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "user-agent", c.ua)
	}

	req, err := structpb.NewStruct(map[string]any{"course_id": courseID})
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, ListAttachmentsMethod, req, resp); err != nil {
		return nil, fmt.Errorf("content.ListAttachments %s: %w", courseID, err)
	}

	list := resp.GetFields()["attachments"].GetListValue().GetValues()
	out := make([]domain.Attachment, 0, len(list))
	for _, v := range list {
		f := v.GetStructValue().GetFields()
		a := domain.Attachment{
			ID:       f["id"].GetStringValue(),
			CourseID: courseID,
			FileRef:  f["file_ref"].GetStringValue(),
			Kind:     domain.AttachmentKind(f["kind"].GetStringValue()),
		}
		if a.ID == "" {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

var _ usecase.ContentCatalog = (*ContentClient)(nil)
