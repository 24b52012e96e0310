package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"biliticket/referralhub/internal/model"
)

func TestProcessReferralAccepts(t *testing.T) {
	e := newEngine(t)
	owner := uuid.New()
	rc, err := e.registry.IssueCode(t.Context(), owner)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	user := uuid.New()

	out, err := e.processor.ProcessReferral(t.Context(), rc.Code, user)
	if err != nil {
		t.Fatalf("process referral: %v", err)
	}
	if !out.Accepted || out.Reason != ReasonAccepted {
		t.Fatalf("outcome = %+v, want accepted", out)
	}
	if out.Edge.ReferrerID != owner || out.Edge.ReferredID != user || out.Edge.CodeUsed != rc.Code {
		t.Fatalf("edge = %+v", out.Edge)
	}
	if out.Node.Depth != 1 || *out.Node.ParentID != owner {
		t.Fatalf("node = %+v, want depth 1 under owner", out.Node)
	}

	stored, err := e.registry.ResolveCode(t.Context(), rc.Code)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if stored.CurrentUses != 1 {
		t.Fatalf("current uses = %d, want 1", stored.CurrentUses)
	}
}

func TestProcessReferralRejections(t *testing.T) {
	e := newEngine(t)
	owner := uuid.New()
	rc, err := e.registry.IssueCode(t.Context(), owner)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}

	tests := []struct {
		name string
		code string
		user uuid.UUID
		want Reason
	}{
		{name: "unknown code", code: "ZZZZ9999", user: uuid.New(), want: ReasonInvalidCode},
		{name: "malformed code", code: "nope", user: uuid.New(), want: ReasonInvalidCode},
		{name: "own code", code: rc.Code, user: owner, want: ReasonSelfReferral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.processor.ProcessReferral(t.Context(), tt.code, tt.user)
			if err != nil {
				t.Fatalf("process referral: %v", err)
			}
			if out.Accepted || out.Reason != tt.want {
				t.Fatalf("outcome = %+v, want rejected with %s", out, tt.want)
			}
		})
	}

	edges, err := e.queries.DirectReferralsOf(t.Context(), owner, "")
	if err != nil {
		t.Fatalf("direct referrals: %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("len(edges) = %d, want 0", len(edges))
	}
}

func TestProcessReferralExhaustedCodeLeavesNoTrace(t *testing.T) {
	e := newEngine(t)
	owner := uuid.New()
	rc, err := e.registry.IssueCode(t.Context(), owner)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	one := 1
	if err := e.registry.SetMaxUses(t.Context(), rc.Code, &one); err != nil {
		t.Fatalf("set max uses: %v", err)
	}

	first := uuid.New()
	out, err := e.processor.ProcessReferral(t.Context(), rc.Code, first)
	if err != nil || !out.Accepted {
		t.Fatalf("first referral = %+v, %v; want accepted", out, err)
	}

	second := uuid.New()
	out, err = e.processor.ProcessReferral(t.Context(), rc.Code, second)
	if err != nil {
		t.Fatalf("second referral: %v", err)
	}
	if out.Accepted || out.Reason != ReasonUsesExhausted {
		t.Fatalf("outcome = %+v, want %s", out, ReasonUsesExhausted)
	}
	if _, err := e.store.Repos().Edges.GetByReferred(t.Context(), second); err == nil {
		t.Fatal("edge recorded for rejected referral")
	}
	if _, err := e.tree.NodeOf(t.Context(), second); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("node err = %v, want %v", err, ErrNodeNotFound)
	}
}

func TestProcessReferralOnlyOnceUnderConcurrency(t *testing.T) {
	e := newEngine(t)
	owners := make([]uuid.UUID, 4)
	codes := make([]string, len(owners))
	for i := range owners {
		owners[i] = uuid.New()
		rc, err := e.registry.IssueCode(t.Context(), owners[i])
		if err != nil {
			t.Fatalf("issue code: %v", err)
		}
		codes[i] = rc.Code
	}
	user := uuid.New()

	const attempts = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		reasons  = map[Reason]int{}
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			out, err := e.processor.ProcessReferral(t.Context(), code, user)
			if err != nil {
				t.Errorf("process referral: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if out.Accepted {
				accepted++
			}
			reasons[out.Reason]++
		}(codes[i%len(codes)])
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted = %d, want 1 (reasons %v)", accepted, reasons)
	}
	if reasons[ReasonAlreadyReferred] != attempts-1 {
		t.Fatalf("already referred = %d, want %d", reasons[ReasonAlreadyReferred], attempts-1)
	}

	edge, err := e.store.Repos().Edges.GetByReferred(t.Context(), user)
	if err != nil {
		t.Fatalf("edge: %v", err)
	}
	totalUses := 0
	for _, code := range codes {
		rc, err := e.store.Repos().Codes.GetByCode(t.Context(), code)
		if err != nil {
			t.Fatalf("code: %v", err)
		}
		totalUses += rc.CurrentUses
		if rc.Code == edge.CodeUsed && rc.CurrentUses != 1 {
			t.Fatalf("winning code uses = %d, want 1", rc.CurrentUses)
		}
	}
	if totalUses != 1 {
		t.Fatalf("total uses = %d, want 1", totalUses)
	}
}

func TestProcessReferralCappedCodeUnderConcurrency(t *testing.T) {
	e := newEngine(t)
	owner := uuid.New()
	rc, err := e.registry.IssueCode(t.Context(), owner)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	limit := 3
	if err := e.registry.SetMaxUses(t.Context(), rc.Code, &limit); err != nil {
		t.Fatalf("set max uses: %v", err)
	}

	const users = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.processor.ProcessReferral(t.Context(), rc.Code, uuid.New())
			if err != nil {
				t.Errorf("process referral: %v", err)
				return
			}
			if out.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if out.Reason != ReasonUsesExhausted {
				t.Errorf("reason = %s, want %s", out.Reason, ReasonUsesExhausted)
			}
		}()
	}
	wg.Wait()

	if accepted != limit {
		t.Fatalf("accepted = %d, want %d", accepted, limit)
	}
	stored, err := e.store.Repos().Codes.GetByCode(t.Context(), rc.Code)
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	if stored.CurrentUses != limit {
		t.Fatalf("current uses = %d, want %d", stored.CurrentUses, limit)
	}
}

func TestProcessReferralEmptyCodeJoinsAsRoot(t *testing.T) {
	e := newEngine(t)
	user := uuid.New()

	for i := 0; i < 2; i++ {
		out, err := e.processor.ProcessReferral(t.Context(), "  ", user)
		if err != nil {
			t.Fatalf("process referral: %v", err)
		}
		if !out.Accepted || out.Edge != nil || !out.Node.IsRoot() {
			t.Fatalf("outcome = %+v, want accepted root", out)
		}
	}

	// A user already placed by a referral cannot become a root.
	owner := uuid.New()
	referred := e.join(t, owner)
	out, err := e.processor.ProcessReferral(t.Context(), "", referred)
	if err != nil {
		t.Fatalf("process referral: %v", err)
	}
	if out.Accepted || out.Reason != ReasonNodeAlreadyExists {
		t.Fatalf("outcome = %+v, want %s", out, ReasonNodeAlreadyExists)
	}
}

func TestProcessReferralRootCannotBeReferredLater(t *testing.T) {
	e := newEngine(t)
	user := uuid.New()
	if out, err := e.processor.ProcessReferral(t.Context(), "", user); err != nil || !out.Accepted {
		t.Fatalf("join as root = %+v, %v", out, err)
	}
	owner := uuid.New()
	rc, err := e.registry.IssueCode(t.Context(), owner)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}

	out, err := e.processor.ProcessReferral(t.Context(), rc.Code, user)
	if err != nil {
		t.Fatalf("process referral: %v", err)
	}
	if out.Accepted || out.Reason != ReasonNodeAlreadyExists {
		t.Fatalf("outcome = %+v, want %s", out, ReasonNodeAlreadyExists)
	}
	stored, err := e.store.Repos().Codes.GetByCode(t.Context(), rc.Code)
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	if stored.CurrentUses != 0 {
		t.Fatalf("current uses = %d, want 0 after rollback", stored.CurrentUses)
	}
}

func TestProcessReferralHonoursCancellation(t *testing.T) {
	e := newEngine(t)
	rc, err := e.registry.IssueCode(t.Context(), uuid.New())
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	out, err := e.processor.ProcessReferral(ctx, rc.Code, uuid.New())
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if out.Accepted {
		t.Fatalf("outcome = %+v, want not accepted", out)
	}
}

func TestRegisterIssuesCodeForNewUser(t *testing.T) {
	e := newEngine(t)
	owner := uuid.New()
	rc, err := e.registry.IssueCode(t.Context(), owner)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	identity := model.UserIdentity{UserID: uuid.New(), Email: "new@example.com"}

	reg, err := e.processor.Register(t.Context(), identity, rc.Code)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !reg.Outcome.Accepted || reg.Code == nil {
		t.Fatalf("registration = %+v, want accepted with code", reg)
	}
	if reg.Code.OwnerID != identity.UserID {
		t.Fatalf("issued code owner = %s, want %s", reg.Code.OwnerID, identity.UserID)
	}

	rejected, err := e.processor.Register(t.Context(), model.UserIdentity{UserID: uuid.New()}, "ZZZZ9999")
	if err != nil {
		t.Fatalf("register with bad code: %v", err)
	}
	if rejected.Outcome.Accepted || rejected.Code != nil {
		t.Fatalf("registration = %+v, want rejection without code", rejected)
	}
}

func TestDirectReferralsNewestFirst(t *testing.T) {
	e := newEngine(t)
	owner := uuid.New()
	first := e.join(t, owner)
	second := e.join(t, owner)

	edges, err := e.queries.DirectReferralsOf(t.Context(), owner, "")
	if err != nil {
		t.Fatalf("direct referrals: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("len(edges) = %d, want 2", len(edges))
	}
	if edges[0].ReferredID != second || edges[1].ReferredID != first {
		t.Fatalf("order = [%s %s], want [%s %s]", edges[0].ReferredID, edges[1].ReferredID, second, first)
	}
	if edges[0].CreatedAt.Before(edges[1].CreatedAt) || edges[0].CreatedAt.Equal(time.Time{}) {
		t.Fatalf("created at not descending: %v, %v", edges[0].CreatedAt, edges[1].CreatedAt)
	}
}
