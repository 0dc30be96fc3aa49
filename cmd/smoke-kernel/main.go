package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"fabrik.dev/internal/assignment"
	"fabrik.dev/internal/audit"
	"fabrik.dev/internal/identity"
	"fabrik.dev/internal/kernel"
	"fabrik.dev/internal/obs"
	"fabrik.dev/internal/rbac"
	"fabrik.dev/internal/store/memory"
)

// smoke-kernel walks the full access-kernel lifecycle against the in-memory
// stores: owner bootstrap, invite, verification, scoped promotion, a denied
// attempt and a disable, then checks the audit trail end to end.
func main() {
	obs.Init()

	secret := os.Getenv("FABRIK_INVITE_SECRET")
	if secret == "" {
		secret = "smoke-secret"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	users := memory.NewUserStore()
	sink := audit.NewMemorySink()
	stream := audit.NewStream()
	recorder := audit.NewRecorder(sink, audit.WithStream(stream))
	engine := rbac.NewEngine(rbac.MustDefaultPolicy())
	live := stream.Subscribe(ctx)

	invites, err := identity.NewJWTInvites([]byte(secret))
	if err != nil {
		log.Fatalf("invites: %v", err)
	}
	ids := identity.NewService(users, invites, identity.NewLocalCredentials(), engine, recorder)
	assignments := assignment.NewService(memory.NewAssignmentStore(), users, engine, recorder)
	guard := kernel.NewGuard(ids, assignments, engine, recorder)

	admission, err := ids.CanSignup(ctx, "")
	if err != nil || !admission.Allowed {
		log.Fatalf("fresh system must admit the owner: %+v err=%v", admission, err)
	}
	owner, err := ids.Bootstrap(ctx, "owner@fabrik.dev", "owner-pass")
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	ownerActor := identity.Actor{UID: owner.ID, Role: owner.Role}

	if admission, _ := ids.CanSignup(ctx, ""); admission.Allowed {
		log.Fatal("signup must be closed after the first user")
	}

	token, err := invites.Issue(ctx, "emp@fabrik.dev", identity.RoleEmployee, time.Hour)
	if err != nil {
		log.Fatalf("issue invite: %v", err)
	}
	emp, err := ids.AcceptInvite(ctx, token, "emp-pass")
	if err != nil {
		log.Fatalf("accept invite: %v", err)
	}
	empActor := identity.Actor{UID: emp.ID, Role: emp.Role}

	if _, err := guard.Transition(ctx, empActor, emp.ID, identity.ActionVerifyEmail); err != nil {
		log.Fatalf("verify email: %v", err)
	}

	if _, err := guard.Assign(ctx, ownerActor, emp.ID, "team-7", assignment.ScopedRoleManager); err != nil {
		log.Fatalf("assign: %v", err)
	}
	scope := rbac.Scope{Type: "team", ID: "team-7"}
	if d := guard.Authorize(ctx, empActor, rbac.ResourceTeamMember, rbac.ActionAssign, scope); !d.Allowed() {
		log.Fatalf("scoped manager must be allowed to assign: %+v", d)
	}

	if err := guard.Require(ctx, empActor, rbac.ResourceUser, rbac.ActionDisable, rbac.NoScope); !rbac.IsForbidden(err) {
		log.Fatalf("employee disable must be forbidden, got %v", err)
	}

	status, err := guard.Transition(ctx, ownerActor, emp.ID, identity.ActionDisableUser)
	if err != nil || status != identity.StatusDisabled {
		log.Fatalf("disable: status=%s err=%v", status, err)
	}
	if _, err := ids.Authenticate(ctx, "emp@fabrik.dev", "emp-pass"); err == nil {
		log.Fatal("disabled user must not authenticate")
	}

	trail, err := guard.History(ctx, owner.ID)
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	// signup, assign, disable — denied attempts leave no trace.
	if len(trail) != 3 {
		log.Fatalf("unexpected owner trail length: %d", len(trail))
	}
	for i := 1; i < len(trail); i++ {
		if trail[i].ID <= trail[i-1].ID {
			log.Fatalf("audit ids out of order: %s !> %s", trail[i].ID, trail[i-1].ID)
		}
	}

	mirrored := 0
	for {
		select {
		case <-live:
			mirrored++
			continue
		default:
		}
		break
	}
	if mirrored != sink.Len() {
		log.Fatalf("live stream missed events: %d of %d", mirrored, sink.Len())
	}

	fmt.Printf("✅ kernel smoke test passed: owner=%s employee=%s events=%d\n", owner.ID, emp.ID, sink.Len())
}
