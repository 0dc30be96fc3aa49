package identity_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fabrik.dev/internal/audit"
	"fabrik.dev/internal/identity"
	"fabrik.dev/internal/rbac"
	"fabrik.dev/internal/store/memory"
)

type fixture struct {
	svc     *identity.Service
	users   *memory.UserStore
	invites *identity.JWTInvites
	sink    *audit.MemorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := memory.NewUserStore()
	invites, err := identity.NewJWTInvites([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewJWTInvites: %v", err)
	}
	sink := audit.NewMemorySink()
	engine := rbac.NewEngine(rbac.MustDefaultPolicy())
	svc := identity.NewService(users, invites, identity.NewLocalCredentials(), engine, audit.NewRecorder(sink))
	return &fixture{svc: svc, users: users, invites: invites, sink: sink}
}

func (f *fixture) bootstrapOwner(t *testing.T) identity.User {
	t.Helper()
	owner, err := f.svc.Bootstrap(context.Background(), "owner@fabrik.dev", "correct horse")
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return owner
}

func (f *fixture) inviteEmployee(t *testing.T, email string) identity.User {
	t.Helper()
	ctx := context.Background()
	token, err := f.invites.Issue(ctx, email, identity.RoleEmployee, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	u, err := f.svc.AcceptInvite(ctx, token, "employee pass")
	if err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	return u
}

func TestCanSignupOwnerBootstrap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admission, err := f.svc.CanSignup(ctx, "")
	if err != nil {
		t.Fatalf("CanSignup: %v", err)
	}
	if !admission.Allowed || admission.Reason != identity.ReasonOwnerBootstrap {
		t.Fatalf("fresh system must allow owner bootstrap, got %+v", admission)
	}
	// Idempotent under repeated calls.
	again, _ := f.svc.CanSignup(ctx, "")
	if again != admission {
		t.Fatalf("CanSignup not idempotent: %+v vs %+v", again, admission)
	}
}

func TestCanSignupClosedAfterFirstUser(t *testing.T) {
	f := newFixture(t)
	f.bootstrapOwner(t)

	admission, err := f.svc.CanSignup(context.Background(), "")
	if err != nil {
		t.Fatalf("CanSignup: %v", err)
	}
	if admission.Allowed || admission.Reason != identity.ReasonSignupClosed {
		t.Fatalf("anonymous signup after first user must deny, got %+v", admission)
	}
}

func TestCanSignupWithValidInvite(t *testing.T) {
	f := newFixture(t)
	f.bootstrapOwner(t)
	ctx := context.Background()

	token, err := f.invites.Issue(ctx, "new@fabrik.dev", identity.RoleEmployee, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	admission, err := f.svc.CanSignup(ctx, token)
	if err != nil {
		t.Fatalf("CanSignup: %v", err)
	}
	if !admission.Allowed || admission.Reason != identity.ReasonValidInvite {
		t.Fatalf("valid invite must admit, got %+v", admission)
	}
}

func TestBootstrapEmitsAdmissionEvents(t *testing.T) {
	f := newFixture(t)
	owner := f.bootstrapOwner(t)

	if owner.Role != identity.RoleOwner {
		t.Fatalf("bootstrap user must be owner, got %s", owner.Role)
	}
	if owner.Status != identity.StatusAuthenticated {
		t.Fatalf("unexpected status: %s", owner.Status)
	}
	events, err := f.sink.QueryByActor(context.Background(), owner.ID)
	if err != nil {
		t.Fatalf("QueryByActor: %v", err)
	}
	// openSignup is anonymous; signup carries the new owner.
	if len(events) != 1 || events[0].Action != "signup" {
		t.Fatalf("expected one signup event for owner, got %#v", events)
	}
	if f.sink.Len() != 2 {
		t.Fatalf("bootstrap must emit openSignup + signup, got %d events", f.sink.Len())
	}
}

func TestBootstrapConcurrentSingleOwner(t *testing.T) {
	f := newFixture(t)
	const attempts = 8
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Bootstrap(context.Background(), fmt.Sprintf("owner%d@fabrik.dev", i), "pw")
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("exactly one bootstrap must win, got %d", created)
	}
	count, err := f.users.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("concurrent bootstraps created %d users", count)
	}
}

func TestBootstrapRefusedOnPopulatedSystem(t *testing.T) {
	f := newFixture(t)
	f.bootstrapOwner(t)
	_, err := f.svc.Bootstrap(context.Background(), "second@fabrik.dev", "pass")
	if err == nil {
		t.Fatal("second bootstrap must fail")
	}
}

func TestAcceptInviteCreatesEmployee(t *testing.T) {
	f := newFixture(t)
	f.bootstrapOwner(t)
	before := f.sink.Len()

	u := f.inviteEmployee(t, "emp@fabrik.dev")
	if u.Role != identity.RoleEmployee || u.Status != identity.StatusAuthenticated {
		t.Fatalf("unexpected user: %+v", u)
	}
	events, _ := f.sink.QueryByActor(context.Background(), u.ID)
	if len(events) != 1 || events[0].Action != "acceptInvite" {
		t.Fatalf("expected one acceptInvite event, got %#v", events)
	}
	if f.sink.Len() != before+1 {
		t.Fatalf("exactly one event per mutation, got %d new", f.sink.Len()-before)
	}
}

func TestAcceptInviteSingleUse(t *testing.T) {
	f := newFixture(t)
	f.bootstrapOwner(t)
	ctx := context.Background()

	token, err := f.invites.Issue(ctx, "emp@fabrik.dev", identity.RoleEmployee, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := f.svc.AcceptInvite(ctx, token, "pass one"); err != nil {
		t.Fatalf("first AcceptInvite: %v", err)
	}
	if _, err := f.svc.AcceptInvite(ctx, token, "pass two"); err == nil {
		t.Fatal("consumed invite must not admit again")
	}
}

// toggleSink fails appends on demand while delegating to a real sink.
type toggleSink struct {
	inner *audit.MemorySink
	fail  bool
}

func (s *toggleSink) Append(ctx context.Context, e *audit.Event) error {
	if s.fail {
		return errors.New("sink offline")
	}
	return s.inner.Append(ctx, e)
}

func (s *toggleSink) QueryByActor(ctx context.Context, actorUID string) ([]audit.Event, error) {
	return s.inner.QueryByActor(ctx, actorUID)
}

func TestAcceptInviteNotBurnedOnFailedAdmission(t *testing.T) {
	users := memory.NewUserStore()
	invites, err := identity.NewJWTInvites([]byte("s"))
	if err != nil {
		t.Fatalf("NewJWTInvites: %v", err)
	}
	sink := &toggleSink{inner: audit.NewMemorySink()}
	svc := identity.NewService(
		users, invites, identity.NewLocalCredentials(),
		rbac.NewEngine(rbac.MustDefaultPolicy()),
		audit.NewRecorder(sink),
	)
	ctx := context.Background()
	if _, err := svc.Bootstrap(ctx, "owner@fabrik.dev", "pw"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	token, err := invites.Issue(ctx, "emp@fabrik.dev", identity.RoleEmployee, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	sink.fail = true
	if _, err := svc.AcceptInvite(ctx, token, "pw"); err == nil {
		t.Fatal("admission must abort when the audit append fails")
	}
	if _, err := users.FindByEmail(ctx, "emp@fabrik.dev"); err == nil {
		t.Fatal("aborted admission must not create the user")
	}

	// The token survives the aborted attempt and a retry succeeds.
	sink.fail = false
	u, err := svc.AcceptInvite(ctx, token, "pw")
	if err != nil {
		t.Fatalf("retry AcceptInvite: %v", err)
	}
	if u.Email != "emp@fabrik.dev" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := svc.AcceptInvite(ctx, token, "pw"); err == nil {
		t.Fatal("invite must be single use after a successful admission")
	}
}

func TestApplyVerifyEmail(t *testing.T) {
	f := newFixture(t)
	f.bootstrapOwner(t)
	emp := f.inviteEmployee(t, "emp@fabrik.dev")
	ctx := context.Background()
	actor := identity.Actor{UID: emp.ID, Role: emp.Role}

	status, err := f.svc.Apply(ctx, actor, emp.ID, identity.ActionVerifyEmail)
	if err != nil {
		t.Fatalf("Apply verifyEmail: %v", err)
	}
	if status != identity.StatusVerified {
		t.Fatalf("unexpected status: %s", status)
	}
	stored, _ := f.users.Find(ctx, emp.ID)
	if stored.Status != identity.StatusVerified || !stored.Verified {
		t.Fatalf("verification not persisted: %+v", stored)
	}

	// Idempotent repeat: same status, no new event.
	before := f.sink.Len()
	status, err = f.svc.Apply(ctx, actor, emp.ID, identity.ActionVerifyEmail)
	if err != nil || status != identity.StatusVerified {
		t.Fatalf("repeat verifyEmail: status=%s err=%v", status, err)
	}
	if f.sink.Len() != before {
		t.Fatal("no-op transition must not emit an audit event")
	}
}

func TestApplyDisableByOwner(t *testing.T) {
	f := newFixture(t)
	owner := f.bootstrapOwner(t)
	emp := f.inviteEmployee(t, "emp@fabrik.dev")
	ctx := context.Background()
	ownerActor := identity.Actor{UID: owner.ID, Role: owner.Role}
	empActor := identity.Actor{UID: emp.ID, Role: emp.Role}

	// Walk the employee to verified first.
	if _, err := f.svc.Apply(ctx, empActor, emp.ID, identity.ActionVerifyEmail); err != nil {
		t.Fatalf("verifyEmail: %v", err)
	}

	status, err := f.svc.Apply(ctx, ownerActor, emp.ID, identity.ActionDisableUser)
	if err != nil {
		t.Fatalf("disableUser: %v", err)
	}
	if status != identity.StatusDisabled {
		t.Fatalf("unexpected status: %s", status)
	}
	events, _ := f.sink.QueryByActor(ctx, owner.ID)
	var disable *audit.Event
	for i := range events {
		if events[i].Action == "disableUser" {
			disable = &events[i]
		}
	}
	if disable == nil {
		t.Fatal("missing disableUser audit event")
	}
	if disable.ActorRole != "owner" || disable.TargetUID != emp.ID {
		t.Fatalf("unexpected event: %+v", disable)
	}
	if disable.Metadata["from_status"] != string(identity.StatusVerified) {
		t.Fatalf("from_status must capture the pre-transition state: %v", disable.Metadata)
	}
}

func TestApplyDisableForbiddenForEmployee(t *testing.T) {
	f := newFixture(t)
	owner := f.bootstrapOwner(t)
	emp := f.inviteEmployee(t, "emp@fabrik.dev")
	ctx := context.Background()
	before := f.sink.Len()

	_, err := f.svc.Apply(ctx, identity.Actor{UID: emp.ID, Role: emp.Role}, owner.ID, identity.ActionDisableUser)
	if !rbac.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	var fe *rbac.ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != rbac.ReasonNoRule {
		t.Fatalf("expected NO_RULE reason, got %+v", fe)
	}
	if f.sink.Len() != before {
		t.Fatal("denied attempt must not emit an audit event")
	}
	if status, _ := f.svc.Status(ctx, owner.ID); status == identity.StatusDisabled {
		t.Fatal("denied transition must not mutate the target")
	}
}

func TestApplyReactivate(t *testing.T) {
	f := newFixture(t)
	owner := f.bootstrapOwner(t)
	emp := f.inviteEmployee(t, "emp@fabrik.dev")
	ctx := context.Background()
	ownerActor := identity.Actor{UID: owner.ID, Role: owner.Role}

	if _, err := f.svc.Apply(ctx, ownerActor, emp.ID, identity.ActionDisableUser); err != nil {
		t.Fatalf("disableUser: %v", err)
	}
	status, err := f.svc.Apply(ctx, ownerActor, emp.ID, identity.ActionReactivateUser)
	if err != nil {
		t.Fatalf("reactivateUser: %v", err)
	}
	if status != identity.StatusAuthenticated {
		t.Fatalf("reactivated user must return to authenticated, got %s", status)
	}
}

func TestApplySignOutLeavesStoredStatus(t *testing.T) {
	f := newFixture(t)
	f.bootstrapOwner(t)
	emp := f.inviteEmployee(t, "emp@fabrik.dev")
	ctx := context.Background()
	actor := identity.Actor{UID: emp.ID, Role: emp.Role}

	status, err := f.svc.Apply(ctx, actor, emp.ID, identity.ActionSignOut)
	if err != nil {
		t.Fatalf("signOut: %v", err)
	}
	if status != identity.StatusUnauthenticated {
		t.Fatalf("unexpected session status: %s", status)
	}
	stored, _ := f.svc.Status(ctx, emp.ID)
	if stored != identity.StatusAuthenticated {
		t.Fatalf("signOut must not change the stored lifecycle status, got %s", stored)
	}

	// Repeating signOut with no session left is a true no-op: same status,
	// no second event.
	before := f.sink.Len()
	status, err = f.svc.Apply(ctx, actor, emp.ID, identity.ActionSignOut)
	if err != nil || status != identity.StatusUnauthenticated {
		t.Fatalf("repeat signOut: status=%s err=%v", status, err)
	}
	if f.sink.Len() != before {
		t.Fatal("repeat signOut must not emit an audit event")
	}

	// A fresh authentication opens a new session, so signOut applies again.
	if _, err := f.svc.Authenticate(ctx, "emp@fabrik.dev", "employee pass"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	status, err = f.svc.Apply(ctx, actor, emp.ID, identity.ActionSignOut)
	if err != nil || status != identity.StatusUnauthenticated {
		t.Fatalf("signOut after re-auth: status=%s err=%v", status, err)
	}
	if f.sink.Len() != before+1 {
		t.Fatalf("expected one new signOut event, got %d", f.sink.Len()-before)
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	f.bootstrapOwner(t)
	ctx := context.Background()

	u, err := f.svc.Authenticate(ctx, "owner@fabrik.dev", "correct horse")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.Role != identity.RoleOwner {
		t.Fatalf("unexpected user: %+v", u)
	}

	_, err = f.svc.Authenticate(ctx, "owner@fabrik.dev", "wrong password")
	if !identity.IsCode(err, identity.CodeInvalidCredentials) {
		t.Fatalf("expected AUTH_INVALID_CREDENTIALS, got %v", err)
	}
}

func TestAuthenticateLockout(t *testing.T) {
	users := memory.NewUserStore()
	invites, _ := identity.NewJWTInvites([]byte("s"))
	engine := rbac.NewEngine(rbac.MustDefaultPolicy())
	svc := identity.NewService(
		users, invites, identity.NewLocalCredentials(), engine,
		audit.NewRecorder(audit.NewMemorySink()),
		identity.WithThrottle(identity.NewThrottle(2, 0.0001)),
	)
	ctx := context.Background()
	if _, err := svc.Bootstrap(ctx, "owner@fabrik.dev", "pw"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.Authenticate(ctx, "owner@fabrik.dev", "wrong"); identity.IsCode(err, identity.CodeLockedOut) {
			t.Fatalf("attempt %d locked out too early", i)
		}
	}
	_, err := svc.Authenticate(ctx, "owner@fabrik.dev", "pw")
	if !identity.IsCode(err, identity.CodeLockedOut) {
		t.Fatalf("expected AUTH_LOCKED_OUT after burst, got %v", err)
	}
}

func TestAuthenticateDisabledUser(t *testing.T) {
	f := newFixture(t)
	owner := f.bootstrapOwner(t)
	emp := f.inviteEmployee(t, "emp@fabrik.dev")
	ctx := context.Background()

	if _, err := f.svc.Apply(ctx, identity.Actor{UID: owner.ID, Role: owner.Role}, emp.ID, identity.ActionDisableUser); err != nil {
		t.Fatalf("disableUser: %v", err)
	}
	_, err := f.svc.Authenticate(ctx, "emp@fabrik.dev", "employee pass")
	if !identity.IsCode(err, identity.CodeInvalidCredentials) {
		t.Fatalf("disabled user must not authenticate, got %v", err)
	}
}

func TestSingleGlobalRoleInvariant(t *testing.T) {
	f := newFixture(t)
	owner := f.bootstrapOwner(t)
	emp := f.inviteEmployee(t, "emp@fabrik.dev")
	ctx := context.Background()
	ownerActor := identity.Actor{UID: owner.ID, Role: owner.Role}

	// Run the full lifecycle; the stored role must stay exactly one value.
	steps := []identity.ActionType{
		identity.ActionVerifyEmail,
		identity.ActionDisableUser,
		identity.ActionReactivateUser,
		identity.ActionSignOut,
	}
	for _, step := range steps {
		if _, err := f.svc.Apply(ctx, ownerActor, emp.ID, step); err != nil {
			t.Fatalf("Apply %s: %v", step, err)
		}
		stored, err := f.users.Find(ctx, emp.ID)
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if stored.Role != identity.RoleEmployee {
			t.Fatalf("global role drifted after %s: %s", step, stored.Role)
		}
	}
}
