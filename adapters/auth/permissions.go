package auth

import (
	"net/http"
	"strings"

	"github.com/artpar/modhost/core/apierr"
	"github.com/artpar/modhost/core/module"
)

// AnonymousRole is the role of requests without a user.
const AnonymousRole = "anonymous"

// Permissions grants actions to roles. An action is "<module>:<verb>";
// a grant may be an exact action, "<module>:*" or "*".
type Permissions struct {
	grants map[string][]string
}

// NewPermissions creates a checker from role → granted actions.
func NewPermissions(grants map[string][]string) *Permissions {
	p := &Permissions{grants: make(map[string][]string, len(grants))}
	for role, actions := range grants {
		p.grants[role] = append([]string(nil), actions...)
	}
	return p
}

// Can reports whether the requester may perform action.
func (p *Permissions) Can(req *module.Request, action string) bool {
	return p.Allowed(req.User(), action)
}

// Allowed reports whether user may perform action. A nil user has the
// anonymous role.
func (p *Permissions) Allowed(user *module.User, action string) bool {
	role := AnonymousRole
	if user != nil {
		role = user.Role
	}

	for _, grant := range p.grants[role] {
		if grantMatches(grant, action) {
			return true
		}
	}
	return false
}

func grantMatches(grant, action string) bool {
	if grant == "*" || grant == action {
		return true
	}
	if prefix, ok := strings.CutSuffix(grant, "*"); ok {
		return strings.HasPrefix(action, prefix)
	}
	return false
}

// Require returns route middleware answering forbidden when the
// requester may not perform action.
func (p *Permissions) Require(action string, errs ErrorSender) module.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !p.Allowed(module.UserFrom(r.Context()), action) {
				errs.Send(w, r, apierr.Forbidden("You are not allowed to "+action).
					WithData(map[string]any{"action": action}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
