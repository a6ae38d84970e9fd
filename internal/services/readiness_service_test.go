package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/playbookhq/readiness-engine/internal/models"
	"github.com/playbookhq/readiness-engine/internal/utils"
)

type scorerStub struct {
	err   error
	calls int
}

func (s *scorerStub) CalculateReadinessScore(ctx context.Context, orgID string) (models.ReadinessMetric, error) {
	s.calls++
	if s.err != nil {
		return models.ReadinessMetric{}, s.err
	}
	return models.ReadinessMetric{OrganizationID: orgID, OverallScore: 81}, nil
}

func (s *scorerStub) History(ctx context.Context, orgID string, limit int) ([]models.ReadinessMetric, error) {
	return []models.ReadinessMetric{{OrganizationID: orgID}}, nil
}

type catalogStub struct {
	signalStatus models.SignalStatus
}

func (c *catalogStub) ListSignals(ctx context.Context, orgID string, st models.SignalStatus, limit int) ([]models.WeakSignal, error) {
	c.signalStatus = st
	return []models.WeakSignal{{ID: "s1", OrganizationID: orgID}}, nil
}

func (c *catalogStub) ListPatterns(ctx context.Context, orgID string, st models.PatternStatus, limit int) ([]models.OraclePattern, error) {
	return nil, nil
}

func (c *catalogStub) ListLearnings(ctx context.Context, orgID string, limit int) ([]models.PlaybookLearning, error) {
	return nil, nil
}

func TestCalculateReadinessDelegates(t *testing.T) {
	scorer := &scorerStub{}
	svc := NewReadinessService(nil, Dependencies{Scorer: scorer})

	metric, err := svc.CalculateReadiness(context.Background(), "org-a")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if metric.OverallScore != 81 || scorer.calls != 1 {
		t.Fatalf("unexpected metric %+v calls=%d", metric, scorer.calls)
	}
}

func TestUnconfiguredComponentFailsPrecondition(t *testing.T) {
	svc := NewReadinessService(nil, Dependencies{})

	_, err := svc.DetectSignals(context.Background(), "org-a")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if status.Code(GRPCError(err)) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", GRPCError(err))
	}
}

func TestListSignalsValidatesStatus(t *testing.T) {
	cat := &catalogStub{}
	svc := NewReadinessService(nil, Dependencies{Catalog: cat})

	if _, err := svc.ListSignals(context.Background(), "org-a", "bogus", 10); !utils.IsAppError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.ListSignals(context.Background(), "", "", 10); !utils.IsAppError(err) {
		t.Fatalf("expected org validation error, got %v", err)
	}
	out, err := svc.ListSignals(context.Background(), "org-a", models.SignalStatusActive, 10)
	if err != nil || len(out) != 1 || cat.signalStatus != models.SignalStatusActive {
		t.Fatalf("unexpected list result %v err=%v status=%q", out, err, cat.signalStatus)
	}
}

func TestLatencyTrackedOnSuccessOnly(t *testing.T) {
	scorer := &scorerStub{}
	svc := NewReadinessService(nil, Dependencies{Scorer: scorer})

	if _, err := svc.CalculateReadiness(context.Background(), "org-a"); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	scorer.err = errors.New("db down")
	if _, err := svc.CalculateReadiness(context.Background(), "org-a"); err == nil {
		t.Fatalf("expected error")
	}
	if svc.latencies.Count() != 1 {
		t.Fatalf("expected one latency sample, got %d", svc.latencies.Count())
	}
}

func TestGRPCErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{utils.NewAppError("op", "bad input", nil), codes.InvalidArgument},
		{fmt.Errorf("load: %w", models.ErrNotFound), codes.NotFound},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
	}
	for _, tc := range cases {
		if got := status.Code(GRPCError(tc.err)); got != tc.code {
			t.Fatalf("GRPCError(%v) = %v, want %v", tc.err, got, tc.code)
		}
	}
	if GRPCError(nil) != nil {
		t.Fatalf("nil must map to nil")
	}
}
