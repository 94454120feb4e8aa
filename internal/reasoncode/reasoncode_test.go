package reasoncode_test

import (
	"errors"
	"testing"

	"github.com/atlas-desktop/derivatives-agent/internal/reasoncode"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
)

func TestNewCarriesCodeMessageAndSuggestion(t *testing.T) {
	r := reasoncode.New(reasoncode.CodeInsufficientBalance, "balance too low", "top up your wallet")
	if r.Code != reasoncode.CodeInsufficientBalance {
		t.Errorf("code = %q, want %q", r.Code, reasoncode.CodeInsufficientBalance)
	}
	if r.Message != "balance too low" {
		t.Errorf("message = %q", r.Message)
	}
	if r.Suggestion != "top up your wallet" {
		t.Errorf("suggestion = %q", r.Suggestion)
	}
	if r.Snapshot != nil {
		t.Error("expected no snapshot on a plain rejection")
	}
}

func TestRejectionSatisfiesError(t *testing.T) {
	r := reasoncode.New(reasoncode.CodeFatal, "boom", "")
	var err error = r
	if err.Error() != "boom" {
		t.Errorf("Error() = %q, want boom", err.Error())
	}
	if !errors.As(err, &r) {
		t.Error("expected errors.As to recover the *Rejection")
	}
}

func TestWithSnapshotAttachesAndReturnsSameRejection(t *testing.T) {
	r := reasoncode.New(reasoncode.CodeDirectionDisallowed, "long entries disallowed", "")
	snap := types.StrategySnapshot{SupertrendValue: 100}

	got := r.WithSnapshot(snap)
	if got != r {
		t.Error("expected WithSnapshot to return the same rejection for chaining")
	}
	if r.Snapshot == nil || r.Snapshot.SupertrendValue != 100 {
		t.Errorf("snapshot not attached correctly: %+v", r.Snapshot)
	}
}
