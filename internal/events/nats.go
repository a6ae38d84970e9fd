package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/playbookhq/readiness-engine/internal/models"
)

// ExecutionCompleted is published by the execution workflow when a playbook run finishes.
type ExecutionCompleted struct {
	ExecutionID    string `json:"execution_id"`
	ScenarioID     string `json:"scenario_id"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// RecomputeRequest asks for a fresh readiness measurement.
type RecomputeRequest struct {
	OrganizationID string `json:"organization_id"`
}

// LearningExtractor turns a finished execution into learnings.
type LearningExtractor interface {
	ExtractLearnings(ctx context.Context, executionID, scenarioID string) ([]models.PlaybookLearning, error)
}

// ReadinessCalculator computes a readiness measurement.
type ReadinessCalculator interface {
	CalculateReadinessScore(ctx context.Context, orgID string) (models.ReadinessMetric, error)
}

// SubscriberConfig names the subjects the engine listens on.
type SubscriberConfig struct {
	ExecutionsSubject string
	RecomputeSubject  string
	QueueGroup        string
	HandlerTimeout    time.Duration
}

// Connect dials NATS with reconnect handling that logs instead of failing.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(10*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats async error", slog.String("subject", subject), slog.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Subscriber drives learning extraction and readiness recomputation from NATS subjects.
type Subscriber struct {
	conn       *nats.Conn
	cfg        SubscriberConfig
	extractor  LearningExtractor
	calculator ReadinessCalculator
	logger     *slog.Logger
	subs       []*nats.Subscription
}

// NewSubscriber wires handlers; Start begins consuming.
func NewSubscriber(conn *nats.Conn, cfg SubscriberConfig, extractor LearningExtractor, calculator ReadinessCalculator, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = time.Minute
	}
	return &Subscriber{
		conn:       conn,
		cfg:        cfg,
		extractor:  extractor,
		calculator: calculator,
		logger:     logger,
	}
}

// Start subscribes both subjects within the configured queue group.
func (s *Subscriber) Start() error {
	if s.conn == nil {
		return errors.New("nats connection is nil")
	}
	handlers := map[string]nats.MsgHandler{
		s.cfg.ExecutionsSubject: s.onExecutionCompleted,
		s.cfg.RecomputeSubject:  s.onRecompute,
	}
	for subject, handler := range handlers {
		if subject == "" {
			continue
		}
		sub, err := s.conn.QueueSubscribe(subject, s.cfg.QueueGroup, handler)
		if err != nil {
			_ = s.Stop()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
		s.logger.Info("subscribed", slog.String("subject", subject), slog.String("queue", s.cfg.QueueGroup))
	}
	return nil
}

// Stop drains every subscription so in-flight handlers finish.
func (s *Subscriber) Stop() error {
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}

func (s *Subscriber) onExecutionCompleted(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandlerTimeout)
	defer cancel()
	result, err := s.handleExecutionCompleted(ctx, msg.Data)
	reply(msg, result, err)
}

func (s *Subscriber) onRecompute(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandlerTimeout)
	defer cancel()
	result, err := s.handleRecompute(ctx, msg.Data)
	reply(msg, result, err)
}

func (s *Subscriber) handleExecutionCompleted(ctx context.Context, data []byte) (any, error) {
	var evt ExecutionCompleted
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Warn("dropping malformed execution event", slog.Any("error", err))
		return nil, fmt.Errorf("decode execution event: %w", err)
	}
	if strings.TrimSpace(evt.ExecutionID) == "" {
		return nil, errors.New("execution_id is required")
	}
	learnings, err := s.extractor.ExtractLearnings(ctx, evt.ExecutionID, evt.ScenarioID)
	if err != nil {
		s.logger.Error("learning extraction failed", slog.String("execution_id", evt.ExecutionID), slog.Any("error", err))
		return nil, err
	}
	orgID := evt.OrganizationID
	if orgID == "" && len(learnings) > 0 {
		orgID = learnings[0].OrganizationID
	}
	if len(learnings) > 0 && orgID != "" && s.calculator != nil {
		if _, err := s.calculator.CalculateReadinessScore(ctx, orgID); err != nil {
			s.logger.Warn("readiness refresh after extraction failed", slog.String("organization_id", orgID), slog.Any("error", err))
		}
	}
	return learnings, nil
}

func (s *Subscriber) handleRecompute(ctx context.Context, data []byte) (any, error) {
	var req RecomputeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode recompute request: %w", err)
	}
	metric, err := s.calculator.CalculateReadinessScore(ctx, req.OrganizationID)
	if err != nil {
		s.logger.Error("readiness recompute failed", slog.String("organization_id", req.OrganizationID), slog.Any("error", err))
		return nil, err
	}
	return metric, nil
}

type replyEnvelope struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// reply answers request-style messages; fire-and-forget publishes have no reply subject.
func reply(msg *nats.Msg, result any, err error) {
	if msg.Reply == "" {
		return
	}
	env := replyEnvelope{OK: err == nil, Result: result}
	if err != nil {
		env.Error = err.Error()
	}
	body, mErr := json.Marshal(env)
	if mErr != nil {
		return
	}
	_ = msg.Respond(body)
}
