package authapi

import (
	"context"
	"net"

	"rememberme/cmd/internal/auth/rememberme"
)

// Audit actions written by the HTTP layer. Token lifecycle events are recorded by
// the remember-me service itself.
const (
	auditLoginSuccess = "auth.login.success"
	auditLogout       = "auth.logout"
	auditLogoutAll    = "auth.logout_all"
)

func (h *Handler) auditLoginSuccess(ctx context.Context, id rememberme.Identity, ip net.IP, ua, identifier string, remembered bool) {
	h.record(ctx, auditLoginSuccess, id, ip, ua, map[string]any{
		"identifier": identifier,
		"remembered": remembered,
	})
}

func (h *Handler) auditLogout(ctx context.Context, id rememberme.Identity, ip net.IP, ua string) {
	h.record(ctx, auditLogout, id, ip, ua, nil)
}

func (h *Handler) auditLogoutAll(ctx context.Context, id rememberme.Identity, ip net.IP, ua string, revoked int64) {
	h.record(ctx, auditLogoutAll, id, ip, ua, map[string]any{"revoked": revoked})
}

func (h *Handler) record(ctx context.Context, action string, id rememberme.Identity, ip net.IP, ua string, meta map[string]any) {
	if h == nil || h.audit == nil {
		return
	}
	ev := rememberme.AuditEvent{
		Action:    action,
		IP:        ip,
		UserAgent: ua,
		Meta:      meta,
		At:        h.now(),
	}
	if id != nil {
		ev.OwnerModel, ev.OwnerID = id.Source(), id.PrimaryKey()
	}
	h.audit.Record(ctx, ev)
}
