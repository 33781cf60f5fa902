package alert

import (
	"context"
	"errors"
	"testing"

	"github.com/crimson-sun/watchdog/internal/model"
)

func rec(conf float64, sev model.Severity, cat model.Category) model.Recommendation {
	return model.Recommendation{Confidence: conf, Severity: sev, Category: cat}
}

func TestShouldAlert(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name string
		rec  model.Recommendation
		want bool
	}{
		{"critical performance", rec(0.9, model.SeverityCritical, model.CategoryPerformance), true},
		{"medium performance", rec(0.9, model.SeverityMedium, model.CategoryPerformance), false},
		{"medium security", rec(0.9, model.SeverityMedium, model.CategorySecurity), true},
		{"low confidence critical security", rec(0.4, model.SeverityCritical, model.CategorySecurity), false},
		{"high availability", rec(0.5, model.SeverityHigh, model.CategoryAvailability), true},
		{"medium compliance", rec(0.9, model.SeverityMedium, model.CategoryCompliance), false},
		{"low security", rec(0.99, model.SeverityLow, model.CategorySecurity), false},
		{"info security", rec(0.99, model.SeverityInfo, model.CategorySecurity), false},
		{"confidence at threshold", rec(0.5, model.SeverityMedium, model.CategorySecurity), true},
		{"confidence just below", rec(0.49, model.SeverityHigh, model.CategorySecurity), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldAlert(tt.rec, p); got != tt.want {
				t.Errorf("ShouldAlert(%+v) = %v, want %v", tt.rec, got, tt.want)
			}
		})
	}
}

type recordingNotifier struct {
	got []model.Finding
	err error
}

func (r *recordingNotifier) Write(_ context.Context, f model.Finding) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, f)
	return nil
}

func finding(conf float64, sev model.Severity, cat model.Category) model.Finding {
	return model.Finding{Recommendation: rec(conf, sev, cat), Query: "q", Source: "auth.log"}
}

func TestDispatch(t *testing.T) {
	n := &recordingNotifier{}
	d := NewDispatcher(DefaultPolicy(), n)
	ctx := context.Background()

	if !d.Dispatch(ctx, finding(0.9, model.SeverityCritical, model.CategoryPerformance)) {
		t.Fatal("expected critical finding to be delivered")
	}
	if d.Dispatch(ctx, finding(0.9, model.SeverityMedium, model.CategoryPerformance)) {
		t.Fatal("medium performance finding should be suppressed")
	}
	if len(n.got) != 1 {
		t.Fatalf("notifier got %d findings, want 1", len(n.got))
	}
	if !n.got[0].Alerted {
		t.Error("delivered finding should be marked alerted")
	}
}

func TestDispatchMinSeverityNarrows(t *testing.T) {
	n := &recordingNotifier{}
	d := NewDispatcher(Policy{MinConfidence: 0.5, MinSeverity: model.SeverityHigh}, n)
	ctx := context.Background()

	if d.Dispatch(ctx, finding(0.9, model.SeverityMedium, model.CategorySecurity)) {
		t.Error("medium security should be held back by min severity high")
	}
	if !d.Dispatch(ctx, finding(0.9, model.SeverityHigh, model.CategorySecurity)) {
		t.Error("high security should pass")
	}

	// A lower minimum never widens the gate.
	d = NewDispatcher(Policy{MinConfidence: 0.5, MinSeverity: model.SeverityInfo}, n)
	if d.Dispatch(ctx, finding(0.9, model.SeverityLow, model.CategorySecurity)) {
		t.Error("low severity must not alert even with min severity info")
	}
}

func TestDispatchFailureAndNilNotifier(t *testing.T) {
	d := NewDispatcher(DefaultPolicy(), &recordingNotifier{err: errors.New("webhook 500")})
	if d.Dispatch(context.Background(), finding(0.9, model.SeverityCritical, model.CategorySecurity)) {
		t.Error("failed delivery should report false")
	}
	if NewDispatcher(DefaultPolicy(), nil).Dispatch(context.Background(), finding(0.9, model.SeverityCritical, model.CategorySecurity)) {
		t.Error("nil notifier should never deliver")
	}
}
