// Package cascade implements the reception code cascade processor: applying
// a reception code change to a token or respondent track and propagating its
// consequences through redo chains and the owning track's token set.
package cascade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/reception"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/token"
	"github.com/CareTrack-Labs/track_engine/internal/app/metrics"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/reconcile"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
	"github.com/CareTrack-Labs/track_engine/internal/app/surveysource"
	"github.com/CareTrack-Labs/track_engine/pkg/logger"
)

// Result summarizes one cascade operation.
type Result struct {
	Changed            bool
	ReplacementTokenID string
	TokensAffected     int
	Reconcile          reconcile.Result
}

// Processor applies reception code changes.
type Processor struct {
	respondents storage.RespondentTrackStore
	tokens      storage.TokenStore
	catalog     reception.Catalog
	source      surveysource.Source
	engine      *reconcile.Engine
	log         *logger.Logger
}

// New constructs a cascade processor.
func New(respondents storage.RespondentTrackStore, tokens storage.TokenStore, catalog reception.Catalog, source surveysource.Source, engine *reconcile.Engine, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.NewDefault("cascade")
	}
	if catalog == nil {
		catalog = reception.NewRegistry()
	}
	return &Processor{
		respondents: respondents,
		tokens:      tokens,
		catalog:     catalog,
		source:      source,
		engine:      engine,
		log:         log,
	}
}

// ApplyToToken applies a reception code to a single token. Non-success codes
// with redo capability spawn a successor token for the same round and link
// the redo chain; redo-with-copy additionally copies the stored answers
// verbatim. The owning respondent track is reconciled afterwards.
func (p *Processor) ApplyToToken(ctx context.Context, tokenID, newCode, actorID, comment string) (Result, error) {
	code, err := p.catalog.Resolve(newCode)
	if err != nil {
		metrics.ObserveCascade("token", "rejected")
		return Result{}, err
	}
	if !code.ForTokens {
		metrics.ObserveCascade("token", "rejected")
		return Result{}, fmt.Errorf("reception code %q cannot be applied to tokens", newCode)
	}

	tok, err := p.tokens.GetToken(ctx, tokenID)
	if err != nil {
		return Result{}, fmt.Errorf("load token %s: %w", tokenID, err)
	}

	if strings.EqualFold(tok.ReceptionCode, code.Code) {
		metrics.ObserveCascade("token", "noop")
		return Result{}, nil
	}

	if code.Success {
		// Restoration: revert the code. A restored chain head needs no
		// further action.
		tok.ReceptionCode = code.Code
		tok.Comment = comment
		tok.ChangedBy = actorID
		if _, err := p.tokens.UpdateToken(ctx, tok); err != nil {
			return Result{}, fmt.Errorf("restore token %s: %w", tok.ID, err)
		}
		metrics.ObserveCascade("token", "changed")
		p.log.WithField("token_id", tok.ID).
			WithField("reception_code", code.Code).
			WithField("actor_id", actorID).
			Info("token restored")
		return Result{Changed: true, TokensAffected: 1}, nil
	}

	// Deleting a token that was already redone and never completed is
	// already in its target state.
	if tok.NextID != "" && !tok.Completed() {
		metrics.ObserveCascade("token", "noop")
		return Result{}, nil
	}

	tok.ReceptionCode = code.Code
	tok.Comment = comment
	tok.ChangedBy = actorID

	var replacement token.Token
	if code.HasRedo() {
		replacement = token.Token{
			ID:                uuid.NewString(),
			RespondentTrackID: tok.RespondentTrackID,
			RoundSpecID:       tok.RoundSpecID,
			RoundOrder:        tok.RoundOrder,
			RoundDescription:  tok.RoundDescription,
			SurveyID:          tok.SurveyID,
			ValidFrom:         tok.ValidFrom,
			ValidUntil:        tok.ValidUntil,
			ReceptionCode:     reception.OK,
			PreviousID:        tok.ID,
			ExternalAnswers:   tok.ExternalAnswers,
		}
		replacement, err = p.tokens.CreateToken(ctx, replacement)
		if err != nil {
			return Result{}, fmt.Errorf("create redo token for %s: %w", tok.ID, err)
		}
		tok.NextID = replacement.ID

		if code.Redo == reception.RedoCopy && p.source != nil {
			if err := p.source.CopyAnswers(ctx, tok, replacement); err != nil {
				return Result{}, fmt.Errorf("copy answers to redo token: %w", err)
			}
		}
	}

	if _, err := p.tokens.UpdateToken(ctx, tok); err != nil {
		return Result{}, fmt.Errorf("update token %s: %w", tok.ID, err)
	}

	recResult, err := p.engine.Reconcile(ctx, tok.RespondentTrackID)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile after cascade: %w", err)
	}

	metrics.ObserveCascade("token", "changed")
	log := p.log.WithField("token_id", tok.ID).
		WithField("reception_code", code.Code).
		WithField("actor_id", actorID)
	if replacement.ID != "" {
		log = log.WithField("replacement_token_id", replacement.ID)
	}
	log.Info("token reception code applied")

	return Result{
		Changed:            true,
		ReplacementTokenID: replacement.ID,
		TokensAffected:     1,
		Reconcile:          recResult,
	}, nil
}

// ApplyToRespondentTrack applies a reception code to a whole respondent
// track and cascades the consequence to every owned token: deleting recodes
// all active tokens, restoring recomputes the tokens the deletion had
// recoded. Reconciliation runs afterwards in both directions.
func (p *Processor) ApplyToRespondentTrack(ctx context.Context, respondentTrackID, newCode, actorID, comment string) (Result, error) {
	code, err := p.catalog.Resolve(newCode)
	if err != nil {
		metrics.ObserveCascade("respondent_track", "rejected")
		return Result{}, err
	}
	if !code.ForTracks {
		metrics.ObserveCascade("respondent_track", "rejected")
		return Result{}, fmt.Errorf("reception code %q cannot be applied to respondent tracks", newCode)
	}

	rt, err := p.respondents.GetRespondentTrack(ctx, respondentTrackID)
	if err != nil {
		return Result{}, fmt.Errorf("load respondent track %s: %w", respondentTrackID, err)
	}

	if strings.EqualFold(rt.ReceptionCode, code.Code) {
		metrics.ObserveCascade("respondent_track", "noop")
		return Result{}, nil
	}

	previousCode := rt.ReceptionCode
	rt.ReceptionCode = code.Code
	rt.Comment = comment
	rt.ChangedBy = actorID
	now := time.Now().UTC()
	if code.Success {
		rt.EndDate = nil
	} else {
		rt.EndDate = &now
	}

	if _, err := p.respondents.UpdateRespondentTrack(ctx, rt); err != nil {
		return Result{}, fmt.Errorf("update respondent track %s: %w", rt.ID, err)
	}

	affected, err := p.cascadeTokens(ctx, rt.ID, code, previousCode, actorID)
	if err != nil {
		return Result{}, err
	}

	recResult, err := p.engine.Reconcile(ctx, rt.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile after cascade: %w", err)
	}

	metrics.ObserveCascade("respondent_track", "changed")
	p.log.WithField("respondent_track_id", rt.ID).
		WithField("reception_code", code.Code).
		WithField("tokens_affected", affected).
		WithField("actor_id", actorID).
		Info("respondent track reception code applied")

	return Result{Changed: true, TokensAffected: affected, Reconcile: recResult}, nil
}

// cascadeTokens recomputes each owned token's track-derived code. Deleting
// recodes success tokens to the track's code; restoring reverts exactly the
// tokens carrying the code the deletion stamped on them, so individually
// coded tokens keep their own state. Chains are walked tail-first, bounded
// by chain length.
func (p *Processor) cascadeTokens(ctx context.Context, respondentTrackID string, code reception.Code, previousCode, actorID string) (int, error) {
	tokens, err := p.tokens.ListTokens(ctx, respondentTrackID)
	if err != nil {
		return 0, fmt.Errorf("load tokens: %w", err)
	}

	affected := 0
	for _, tok := range tokens {
		var target string
		if code.Success {
			if !strings.EqualFold(tok.ReceptionCode, previousCode) {
				continue
			}
			target = reception.OK
		} else {
			tokCode, err := p.catalog.Resolve(tok.ReceptionCode)
			if err != nil || !tokCode.Success {
				continue
			}
			target = code.Code
		}
		tok.ReceptionCode = target
		tok.ChangedBy = actorID
		if _, err := p.tokens.UpdateToken(ctx, tok); err != nil {
			return affected, fmt.Errorf("cascade token %s: %w", tok.ID, err)
		}
		affected++
	}
	return affected, nil
}
