package surveysource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/token"
	"github.com/CareTrack-Labs/track_engine/internal/httputil"
	"github.com/CareTrack-Labs/track_engine/pkg/logger"
)

// HTTPSource talks to an external survey engine over its REST API. Expected
// endpoints:
//
//	GET  /tokens/{id}            -> {"completed": bool, "completed_at": RFC3339}
//	POST /tokens/{id}/copy       -> {"target": "<token id>"}
type HTTPSource struct {
	client *httputil.Client
	log    *logger.Logger
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource builds a source over the given survey engine endpoint.
func NewHTTPSource(cfg httputil.ClientConfig, log *logger.Logger) (*HTTPSource, error) {
	if log == nil {
		log = logger.NewDefault("surveysource")
	}
	client, err := httputil.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure survey source client: %w", err)
	}
	return &HTTPSource{client: client, log: log}, nil
}

func (s *HTTPSource) IsCompleted(ctx context.Context, tok token.Token) (bool, error) {
	body, err := s.fetchToken(ctx, tok.ID)
	if err != nil {
		return false, err
	}
	return gjson.GetBytes(body, "completed").Bool(), nil
}

func (s *HTTPSource) CompletionTime(ctx context.Context, tok token.Token) (*time.Time, error) {
	body, err := s.fetchToken(ctx, tok.ID)
	if err != nil {
		return nil, err
	}
	raw := gjson.GetBytes(body, "completed_at").String()
	if raw == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("survey source returned bad completion time %q: %w", raw, err)
	}
	at = at.UTC()
	return &at, nil
}

func (s *HTTPSource) CopyAnswers(ctx context.Context, from, to token.Token) error {
	path := fmt.Sprintf("/tokens/%s/copy", url.PathEscape(from.ID))
	resp, err := s.client.Post(ctx, path, map[string]string{"target": to.ID})
	if err != nil {
		return fmt.Errorf("copy answers %s -> %s: %w", from.ID, to.ID, err)
	}
	if _, err := httputil.ReadBody(resp); err != nil {
		return fmt.Errorf("copy answers %s -> %s: %w", from.ID, to.ID, err)
	}
	s.log.WithField("from", from.ID).WithField("to", to.ID).Debug("answers copied")
	return nil
}

func (s *HTTPSource) fetchToken(ctx context.Context, tokenID string) ([]byte, error) {
	resp, err := s.client.Get(ctx, "/tokens/"+url.PathEscape(tokenID))
	if err != nil {
		return nil, fmt.Errorf("query token %s: %w", tokenID, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("token %s unknown to survey source", tokenID)
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("query token %s: %w", tokenID, err)
	}
	return body, nil
}
