package guard

import (
	"testing"

	"github.com/hitoshi/nsai/internal/model"
	"github.com/hitoshi/nsai/internal/session"
)

func authed(role model.Role) session.Snapshot {
	return session.Snapshot{
		Identity: &model.Identity{UID: "u1"},
		Profile:  &model.UserProfile{UID: "u1", Role: role},
	}
}

func TestDecide(t *testing.T) {
	identityOnly := session.Snapshot{Identity: &model.Identity{UID: "u1"}}

	tests := []struct {
		name     string
		snap     session.Snapshot
		required model.Role
		want     Decision
	}{
		{"loading wins over everything", session.Snapshot{Loading: true, Identity: &model.Identity{UID: "u1"}}, model.RoleAdmin, Decision{Outcome: Loading, Message: MessageLoading}},
		{"loading without identity", session.Snapshot{Loading: true}, "", Decision{Outcome: Loading, Message: MessageLoading}},
		{"unauthenticated redirects", session.Snapshot{}, model.RoleUser, Decision{Outcome: Redirect, RedirectTo: "/login"}},
		{"unauthenticated no role", session.Snapshot{}, "", Decision{Outcome: Redirect, RedirectTo: "/login"}},
		{"profile pending for admin route", identityOnly, model.RoleAdmin, Decision{Outcome: LoadingProfile, Message: MessageLoadingProfile}},
		{"no role required renders without profile", identityOnly, "", Decision{Outcome: Render}},
		{"pending denied on user route", authed(model.RolePending), model.RoleUser, Decision{Outcome: Denied, Message: MessagePending}},
		{"user denied on admin route", authed(model.RoleUser), model.RoleAdmin, Decision{Outcome: Denied, Message: MessageAdminsOnly}},
		{"pending denied on admin route", authed(model.RolePending), model.RoleAdmin, Decision{Outcome: Denied, Message: MessageAdminsOnly}},
		{"unknown role denied", authed(model.Role("guest")), model.RoleUser, Decision{Outcome: Denied, Message: MessageDenied}},
		{"user renders user route", authed(model.RoleUser), model.RoleUser, Decision{Outcome: Render}},
		{"admin renders user route", authed(model.RoleAdmin), model.RoleUser, Decision{Outcome: Render}},
		{"admin renders admin route", authed(model.RoleAdmin), model.RoleAdmin, Decision{Outcome: Render}},
		{"pending renders pending route", authed(model.RolePending), model.RolePending, Decision{Outcome: Render}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.snap, tt.required)
			if got != tt.want {
				t.Errorf("Decide = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecide_DeniedNeverRedirects(t *testing.T) {
	for _, role := range []model.Role{model.RolePending, model.RoleUser} {
		got := Decide(authed(role), model.RoleAdmin)
		if got.Outcome != Denied || got.RedirectTo != "" {
			t.Errorf("role %s: Decide = %+v, want denial without redirect", role, got)
		}
	}
}

func TestOutcome_String(t *testing.T) {
	tests := map[Outcome]string{
		Loading:        "loading",
		Redirect:       "redirect",
		LoadingProfile: "loading_profile",
		Denied:         "denied",
		Render:         "render",
		Outcome(42):    "unknown",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", o, got, want)
		}
	}
}
