package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/suPer8Hu/assistant-gateway/internal/ai"
	"github.com/suPer8Hu/assistant-gateway/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrUnsupportedProvider = errors.New("unsupported ai provider")

// SettingsSource supplies a user's provider credentials and model choices.
type SettingsSource interface {
	Get(ctx context.Context, userID uint64) (settings.ApiConfiguration, error)
}

type Service struct {
	repo              *Repo
	registry          *ai.Registry
	contextWindowSize int

	settings     SettingsSource
	catalog      *ai.Catalog
	systemPrompt string
	logger       *zap.Logger
}

type Option func(*Service)

func WithSettings(src SettingsSource) Option { return func(s *Service) { s.settings = src } }

func WithCatalog(c *ai.Catalog) Option { return func(s *Service) { s.catalog = c } }

func WithSystemPrompt(p string) Option { return func(s *Service) { s.systemPrompt = p } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(repo *Repo, registry *ai.Registry, contextWindowSize int, opts ...Option) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	s := &Service{
		repo:              repo,
		registry:          registry,
		contextWindowSize: contextWindowSize,
		catalog:           ai.DefaultCatalog(),
		logger:            zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(zap.String("component", "chat"))
	return s
}

func (s *Service) userSettings(ctx context.Context, userID uint64) (settings.ApiConfiguration, error) {
	if s.settings == nil {
		return settings.ApiConfiguration{UserID: userID}, nil
	}
	return s.settings.Get(ctx, userID)
}

// CreateSession pins provider, model and mode for a new conversation. An
// empty provider takes the user's configured provider and model for mode; an
// empty model takes the provider's default.
func (s *Service) CreateSession(ctx context.Context, userID uint64, provider, model, mode string) (*Session, error) {
	m := settings.ModePlan
	if strings.TrimSpace(mode) != "" {
		var err error
		if m, err = settings.ParseMode(mode); err != nil {
			return nil, err
		}
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	if provider == "" {
		cfg, err := s.userSettings(ctx, userID)
		if err != nil {
			return nil, err
		}
		norm := settings.NormalizeApiConfiguration(cfg, m, s.catalog)
		provider = norm.SelectedProvider
		if model == "" {
			model = norm.SelectedModelID
		}
	}
	if !s.registry.Has(provider) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	if model == "" {
		if ref, ok := s.catalog.Default(provider); ok {
			model = ref.ID
		}
	}

	sid, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		SessionID: sid,
		UserID:    userID,
		Provider:  provider,
		Model:     model,
		Mode:      string(m),
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) ownedSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return sess, nil
}

func (s *Service) handlerForSession(ctx context.Context, sess *Session) (ai.ApiHandler, error) {
	cfg, err := s.userSettings(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return s.registry.Build(ctx, sess.Provider, cfg.HandlerOptions(sess.Provider, sess.Model))
}

// history returns the recent context window oldest first.
func (s *Service) history(ctx context.Context, userID uint64, sessionID string) ([]ai.MessageParam, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, userID, sessionID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}
	asc := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		asc = append(asc, ai.Message{Role: m.Role, Content: m.Content})
	}
	return ai.ToMessageParams(asc), nil
}

func (s *Service) insertAssistant(ctx context.Context, sess *Session, model ai.ModelRef, res ai.Result) (*Message, error) {
	msg := &Message{
		SessionID:    sess.SessionID,
		UserID:       sess.UserID,
		Role:         RoleAssistant,
		Content:      res.Text,
		Reasoning:    res.Reasoning,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		Cost:         model.Info.Cost(res.Usage()),
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) SendMessage(ctx context.Context, userID uint64, sessionID string, content string) (reply string, assistantMsgID uint64, err error) {
	// 1) verify session ownership
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return "", 0, err
	}

	// pick provider/model for this session
	handler, err := s.handlerForSession(ctx, sess)
	if err != nil {
		return "", 0, err
	}

	// 2) store user message (strong consistency)
	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sessionID,
		UserID:    userID,
		Role:      RoleUser,
		Content:   content,
	}); err != nil {
		return "", 0, err
	}

	// 3) build provider messages from recent DB history
	params, err := s.history(ctx, userID, sessionID)
	if err != nil {
		return "", 0, err
	}

	// 4) call provider
	res, err := ai.Collect(handler.CreateMessage(ctx, s.systemPrompt, params))
	if err != nil {
		return "", 0, err
	}

	// 5) store assistant message (strong consistency)
	msg, err := s.insertAssistant(ctx, sess, handler.GetModel(), res)
	if err != nil {
		return "", 0, err
	}
	return res.Text, msg.ID, nil
}

func (s *Service) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if err := s.ValidateSessionOwner(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListMessages(ctx, userID, sessionID, limit, beforeID)
}

// SendMessageStream stores the user message immediately, relays provider
// chunks, and stores the assistant message once the provider stream ends.
//
// All three channels are closed together after the assistant message id or
// the error has been sent, so callers drain chunks first and then read errs
// and assistantMsgID.
func (s *Service) SendMessageStream(ctx context.Context, userID uint64, sessionID string, content string) (chunks <-chan ai.Chunk, assistantMsgID <-chan uint64, errs <-chan error) {
	outChunks := make(chan ai.Chunk, 16)
	outMsgID := make(chan uint64, 1)
	outErrs := make(chan error, 1)

	go func() {
		defer func() {
			close(outMsgID)
			close(outErrs)
			close(outChunks)
		}()

		// 1) session ownership check
		sess, err := s.ownedSession(ctx, userID, sessionID)
		if err != nil {
			outErrs <- err
			return
		}

		handler, err := s.handlerForSession(ctx, sess)
		if err != nil {
			outErrs <- err
			return
		}

		// 2) insert user message
		if err := s.repo.InsertMessage(ctx, &Message{
			SessionID: sessionID,
			UserID:    userID,
			Role:      RoleUser,
			Content:   content,
		}); err != nil {
			outErrs <- err
			return
		}

		// 3) load recent messages, build provider context (ASC)
		params, err := s.history(ctx, userID, sessionID)
		if err != nil {
			outErrs <- err
			return
		}

		// 4) stream from provider
		pChunks, pErrs := handler.CreateMessage(ctx, s.systemPrompt, params)

		var (
			res             ai.Result
			text, reasoning strings.Builder
		)
		for c := range pChunks {
			res.Add(c, &text, &reasoning)
			select {
			case outChunks <- c:
			case <-ctx.Done():
				// keep draining so the provider goroutine can exit
			}
		}
		if err := <-pErrs; err != nil {
			outErrs <- err
			return
		}
		res.Text = text.String()
		res.Reasoning = reasoning.String()

		// 5) insert assistant message at the end
		msg, err := s.insertAssistant(ctx, sess, handler.GetModel(), res)
		if err != nil {
			outErrs <- err
			return
		}
		s.logger.Debug("stream stored",
			zap.String("session_id", sessionID),
			zap.Uint64("message_id", msg.ID),
			zap.Int("input_tokens", res.InputTokens),
			zap.Int("output_tokens", res.OutputTokens),
		)
		outMsgID <- msg.ID
	}()

	return outChunks, outMsgID, outErrs
}

func (s *Service) ValidateSessionOwner(ctx context.Context, userID uint64, sessionID string) error {
	_, err := s.ownedSession(ctx, userID, sessionID)
	return err
}

func (s *Service) InsertUserMessage(ctx context.Context, userID uint64, sessionID string, content string) error {
	// session ownership check
	if err := s.ValidateSessionOwner(ctx, userID, sessionID); err != nil {
		return err
	}
	return s.repo.InsertMessage(ctx, &Message{
		SessionID: sessionID,
		UserID:    userID,
		Role:      RoleUser,
		Content:   content,
	})
}

func (s *Service) CreateJob(ctx context.Context, job *Job) error {
	return s.repo.CreateJob(ctx, job)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

// GenerateAssistantReplyAndInsert answers the latest history of a session
// without inserting a user message; the async path stores that up front.
func (s *Service) GenerateAssistantReplyAndInsert(ctx context.Context, userID uint64, sessionID string) (string, uint64, error) {
	// session ownership check + get session for provider routing
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return "", 0, err
	}

	handler, err := s.handlerForSession(ctx, sess)
	if err != nil {
		return "", 0, err
	}

	params, err := s.history(ctx, userID, sessionID)
	if err != nil {
		return "", 0, err
	}

	res, err := ai.Collect(handler.CreateMessage(ctx, s.systemPrompt, params))
	if err != nil {
		return "", 0, err
	}

	msg, err := s.insertAssistant(ctx, sess, handler.GetModel(), res)
	if err != nil {
		return "", 0, err
	}
	return res.Text, msg.ID, nil
}

func (s *Service) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

func (s *Service) InsertUserMessageOrGetExisting(ctx context.Context, userID uint64, sessionID string, content string, key *string) (*Message, bool, error) {
	if err := s.ValidateSessionOwner(ctx, userID, sessionID); err != nil {
		return nil, false, err
	}
	return s.repo.InsertUserMessageOrGetExisting(ctx, userID, sessionID, content, key)
}
