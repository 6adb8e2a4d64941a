package usecase

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
)

const (
	DefaultLinkTTL     = 7 * 24 * time.Hour
	DefaultLinkMaxUses = 5
)

// SecureLinks issues and resolves expiring download tokens for paid content.
type SecureLinks struct {
	links   SecureLinkRepo
	content ContentCatalog
	ttl     time.Duration
	maxUses int
	metrics Metrics
	now     Clock
	token   func() (string, error)
}

func NewSecureLinks(links SecureLinkRepo, content ContentCatalog, ttl time.Duration, maxUses int, m Metrics, now Clock) *SecureLinks {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	if maxUses <= 0 {
		maxUses = DefaultLinkMaxUses
	}
	if m == nil {
		m = NopMetrics{}
	}
	if now == nil {
		now = SystemClock
	}
	return &SecureLinks{links: links, content: content, ttl: ttl, maxUses: maxUses, metrics: m, now: now, token: newToken}
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IssueLinks creates one link per deliverable attachment of every digital item.
// Existing links are kept as they are, so calling it again issues nothing new.
func (s *SecureLinks) IssueLinks(ctx context.Context, o *domain.Order) ([]*domain.SecureLink, error) {
	if !o.Status.IsSuccess() {
		return nil, fmt.Errorf("%w: order %s is %s, links need %s", domain.ErrConflict, o.ID, o.Status, domain.StatusProcessed)
	}
	now := s.now()
	var issued []*domain.SecureLink
	for _, item := range o.Items {
		if item.CourseType != domain.CourseDigital {
			continue
		}
		atts, err := s.content.ListAttachments(ctx, item.CourseID)
		if err != nil {
			return nil, fmt.Errorf("list attachments for course %s: %w", item.CourseID, err)
		}
		for _, att := range atts {
			if !att.Deliverable() {
				continue
			}
			tok, err := s.token()
			if err != nil {
				return nil, err
			}
			l := &domain.SecureLink{
				Token:         tok,
				OrderID:       o.ID,
				OrderItemID:   item.ID,
				AttachmentID:  att.ID,
				FileRef:       att.FileRef,
				ExpiresAt:     now.Add(s.ttl),
				RemainingUses: s.maxUses,
				CreatedAt:     now,
			}
			created, err := s.links.CreateIfAbsent(ctx, l)
			if err != nil {
				return nil, err
			}
			if created {
				issued = append(issued, l)
			}
		}
	}
	s.metrics.LinksIssued(len(issued))
	logging.FromCtx(ctx).Info("secure links issued", "order_id", o.ID, "count", len(issued))
	return issued, nil
}

// ResolveLink spends one use of the link and returns the file it grants.
func (s *SecureLinks) ResolveLink(ctx context.Context, token string) (string, error) {
	l, err := s.links.GetByToken(ctx, token)
	if err != nil {
		s.metrics.LinkResolved("not_found")
		return "", err
	}
	now := s.now()
	if err := l.Usable(now); err != nil {
		s.metrics.LinkResolved("expired")
		return "", err
	}
	ok, err := s.links.ConsumeUse(ctx, token, now)
	if err != nil {
		return "", err
	}
	if !ok {
		// lost the last use to a concurrent download
		s.metrics.LinkResolved("expired")
		return "", domain.ErrExpiredLink
	}
	s.metrics.LinkResolved("ok")
	return l.FileRef, nil
}

func (s *SecureLinks) ListByOrder(ctx context.Context, orderID string) ([]*domain.SecureLink, error) {
	return s.links.ListByOrder(ctx, orderID)
}
